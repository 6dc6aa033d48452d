// modelgen generates and mutates a synthetic binary model file, simulating
// an editing session so the watcher, commit and pull paths can be exercised
// without a real modeling tool.
//
// Usage:
//
//	go run tools/modelgen.go -file scratch.glb -size 2097152
//	go run tools/modelgen.go -file scratch.glb -edits 20 -profile sculpt
//	go run tools/modelgen.go -list
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"
)

// EditProfile defines how a simulated session mutates the file.
type EditProfile struct {
	Name            string
	Description     string
	IntervalMs      int     // Base delay between edits
	IntervalJitter  float64 // Fractional jitter applied to the delay
	GrowProbability float64 // Probability an edit appends bytes
	GrowMaxBytes    int     // Largest append
	ShrinkProb      float64 // Probability an edit truncates
	ShrinkMaxBytes  int     // Largest truncation
	RegionMaxBytes  int     // Largest in-place overwrite
}

var profiles = map[string]EditProfile{
	"sculpt": {
		Name:            "Sculpting Session",
		Description:     "Frequent small in-place edits with slow growth",
		IntervalMs:      1200,
		IntervalJitter:  0.6,
		GrowProbability: 0.25,
		GrowMaxBytes:    8 << 10,
		ShrinkProb:      0.05,
		ShrinkMaxBytes:  2 << 10,
		RegionMaxBytes:  32 << 10,
	},
	"import-heavy": {
		Name:            "Asset Imports",
		Description:     "Occasional large appends, little in-place editing",
		IntervalMs:      4000,
		IntervalJitter:  0.8,
		GrowProbability: 0.8,
		GrowMaxBytes:    2 << 20,
		ShrinkProb:      0.02,
		ShrinkMaxBytes:  16 << 10,
		RegionMaxBytes:  4 << 10,
	},
	"cleanup": {
		Name:            "Cleanup Pass",
		Description:     "Deleting geometry; the file mostly shrinks",
		IntervalMs:      2000,
		IntervalJitter:  0.5,
		GrowProbability: 0.1,
		GrowMaxBytes:    4 << 10,
		ShrinkProb:      0.5,
		ShrinkMaxBytes:  256 << 10,
		RegionMaxBytes:  16 << 10,
	},
	"parametric": {
		Name:            "Parametric Tweaks",
		Description:     "Same-size in-place mutations, size barely moves",
		IntervalMs:      800,
		IntervalJitter:  0.3,
		GrowProbability: 0.02,
		GrowMaxBytes:    512,
		ShrinkProb:      0.02,
		ShrinkMaxBytes:  512,
		RegionMaxBytes:  64 << 10,
	},
}

func main() {
	var (
		filePath     = flag.String("file", "scratch.glb", "Target model file")
		initialSize  = flag.Int("size", 1<<20, "Initial file size in bytes when creating")
		editCount    = flag.Int("edits", 0, "Number of edits to apply after creation")
		profileName  = flag.String("profile", "sculpt", "Edit profile to use")
		seed         = flag.Int64("seed", 0, "Random seed (0 = time-based)")
		listProfiles = flag.Bool("list", false, "List edit profiles and exit")
	)
	flag.Parse()

	if *listProfiles {
		for _, name := range profileNames() {
			fmt.Printf("%-14s  %s\n", name, profiles[name].Description)
		}
		return
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "modelgen: no profile %q, -list shows the choices\n", *profileName)
		os.Exit(1)
	}

	seedVal := *seed
	if seedVal == 0 {
		seedVal = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seedVal))

	data, created, err := loadOrCreate(*filePath, *initialSize, rng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing file: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("Created %s (%d bytes, seed %d)\n", *filePath, len(data), seedVal)
	} else {
		fmt.Printf("Editing %s (%d bytes, seed %d)\n", *filePath, len(data), seedVal)
	}

	if *editCount == 0 {
		return
	}

	fmt.Printf("Applying %d edits with profile: %s\n", *editCount, profile.Name)

	startSize := len(data)
	grown, shrunk := 0, 0
	for i := 0; i < *editCount; i++ {
		sleepFor(rng, profile)

		data, grown, shrunk = applyEdit(rng, profile, data, grown, shrunk)
		if err := os.WriteFile(*filePath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("  edit %3d/%d  %10d bytes\n", i+1, *editCount, len(data))
	}

	fmt.Println("\nSession summary:")
	fmt.Printf("  Start size:   %d bytes\n", startSize)
	fmt.Printf("  Final size:   %d bytes\n", len(data))
	fmt.Printf("  Appends:      %d\n", grown)
	fmt.Printf("  Truncations:  %d\n", shrunk)
}

func profileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadOrCreate returns the existing file bytes, or creates the file filled
// with deterministic pseudo-random content.
func loadOrCreate(path string, size int, rng *rand.Rand) ([]byte, bool, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, err
	}

	data := make([]byte, size)
	rng.Read(data)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func sleepFor(rng *rand.Rand, p EditProfile) {
	base := float64(p.IntervalMs)
	jitter := 1 + p.IntervalJitter*(2*rng.Float64()-1)
	time.Sleep(time.Duration(base*jitter) * time.Millisecond)
}

// applyEdit mutates the model bytes per the profile: an in-place overwrite,
// optionally followed by growth or truncation.
func applyEdit(rng *rand.Rand, p EditProfile, data []byte, grown, shrunk int) ([]byte, int, int) {
	if len(data) > 0 && p.RegionMaxBytes > 0 {
		n := 1 + rng.Intn(p.RegionMaxBytes)
		if n > len(data) {
			n = len(data)
		}
		off := rng.Intn(len(data) - n + 1)
		rng.Read(data[off : off+n])
	}

	switch {
	case rng.Float64() < p.GrowProbability:
		extra := make([]byte, 1+rng.Intn(p.GrowMaxBytes))
		rng.Read(extra)
		data = append(data, extra...)
		grown++
	case rng.Float64() < p.ShrinkProb:
		cut := 1 + rng.Intn(p.ShrinkMaxBytes)
		if cut >= len(data) {
			cut = len(data) / 2
		}
		data = data[:len(data)-cut]
		shrunk++
	}
	return data, grown, shrunk
}

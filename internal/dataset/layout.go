package dataset

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSplitRatio is the share of label files assigned to training.
const DefaultSplitRatio = 0.8

// LabelExt is the extension of YOLO label files.
const LabelExt = ".txt"

// SplitResult reports how many label files went to each side of a split.
type SplitResult struct {
	Train int
	Val   int
}

// Split shuffles the label files in labelsDir with rng and copies ratio of them
// to trainDir and the rest to valDir. A nil rng uses a randomly seeded source.
func Split(labelsDir, trainDir, valDir string, ratio float64, rng *rand.Rand) (SplitResult, error) {
	if ratio < 0 || ratio > 1 {
		return SplitResult{}, fmt.Errorf("split ratio must be within [0, 1], got %v", ratio)
	}

	files, err := listFiles(labelsDir, LabelExt)
	if err != nil {
		return SplitResult{}, err
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	rng.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })

	cut := int(float64(len(files)) * ratio)
	for _, dir := range []string{trainDir, valDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return SplitResult{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	for i, name := range files {
		dst := trainDir
		if i >= cut {
			dst = valDir
		}
		if err := copyFile(filepath.Join(labelsDir, name), filepath.Join(dst, name)); err != nil {
			return SplitResult{}, err
		}
	}

	return SplitResult{Train: cut, Val: len(files) - cut}, nil
}

// CollectResult reports the outcome of CollectImages.
type CollectResult struct {
	Copied  int
	Missing []string
}

// CollectImages copies, for every label file in labelsDir, the image with the
// same base name and a .jpg extension from imagesDir to outDir. Labels without
// an image are reported in Missing.
func CollectImages(labelsDir, imagesDir, outDir string) (CollectResult, error) {
	labels, err := listFiles(labelsDir, LabelExt)
	if err != nil {
		return CollectResult{}, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return CollectResult{}, fmt.Errorf("failed to create %s: %w", outDir, err)
	}

	var res CollectResult
	for _, label := range labels {
		img := strings.TrimSuffix(label, LabelExt) + ".jpg"
		src := filepath.Join(imagesDir, img)

		if _, err := os.Stat(src); os.IsNotExist(err) {
			res.Missing = append(res.Missing, src)
			continue
		}
		if err := copyFile(src, filepath.Join(outDir, img)); err != nil {
			return res, err
		}
		res.Copied++
	}
	return res, nil
}

// SplitCount is the label tally of one split directory.
type SplitCount struct {
	Total    int
	Labelled int
}

// Counts compares the train and val splits against the full label directory.
type Counts struct {
	Train SplitCount
	Val   SplitCount
}

// Count reports how many files each split holds and how many of them also
// exist in labelsDir.
func Count(labelsDir, trainDir, valDir string) (Counts, error) {
	all, err := listFiles(labelsDir, "")
	if err != nil {
		return Counts{}, err
	}
	known := make(map[string]bool, len(all))
	for _, name := range all {
		known[name] = true
	}

	tally := func(dir string) (SplitCount, error) {
		files, err := listFiles(dir, "")
		if err != nil {
			return SplitCount{}, err
		}
		c := SplitCount{Total: len(files)}
		for _, name := range files {
			if known[name] {
				c.Labelled++
			}
		}
		return c, nil
	}

	var counts Counts
	if counts.Train, err = tally(trainDir); err != nil {
		return Counts{}, err
	}
	if counts.Val, err = tally(valDir); err != nil {
		return Counts{}, err
	}
	return counts, nil
}

// listFiles returns the sorted names of regular files in dir, keeping only
// those ending in ext when ext is not empty.
func listFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// Package corpus indexes a raw acquisition directory: a flat folder of
// TIFF frames plus a tagfile.txt sidecar produced by the acquisition
// software. It exposes the set of time delays and scans present, the
// sidecar's experimental parameters, and frame lookup by (delay, scan).
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/raweld/raweld/internal/errs"
	"github.com/raweld/raweld/internal/imageio"
)

var (
	dataFileRe   = regexp.MustCompile(`^data\.timedelay\.([+-]\d+\.\d+)\.nscan\.(\d+)\.pumpon\.tif{1,2}$`)
	pumpoffDataRe = regexp.MustCompile(`^data\.nscan\.(\d+)\.pumpoff\.tif{1,2}$`)
	pumponBgRe   = regexp.MustCompile(`^background\..*\.pumpon\.tif{1,2}$`)
	pumpoffBgRe  = regexp.MustCompile(`^background\..*\.pumpoff\.tif{1,2}$`)
	dirDateRe    = regexp.MustCompile(`^(\d+(?:\.\d+)*)`)
)

// Corpus is a read-only, immutable-after-open view of a raw acquisition
// directory. All fields are computed eagerly at Open time, since the
// directory listings involved are small.
type Corpus struct {
	dir string

	timePoints     []string
	scans          []int
	acquisitionDate string

	fluence, current, exposure, energy float64

	pumponBackgrounds  []string
	pumpoffBackgrounds []string
	pumpoffDataFiles   map[int]string // scan -> filename

	warnings []string
}

// Open indexes dir, classifying every TIFF by filename and parsing the
// tagfile.txt sidecar. It never fails on a malformed sidecar field or
// date (those default per-field with a recorded warning); it fails only
// if the directory itself cannot be listed.
func Open(dir string) (*Corpus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot list %s: %v", errs.ErrCorpusMalformed, dir, err)
	}

	c := &Corpus{
		dir:              dir,
		pumpoffDataFiles: make(map[int]string),
	}

	timeSet := make(map[string]bool)
	scanSet := make(map[int]bool)

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		lower := strings.ToLower(name)
		if !strings.HasSuffix(lower, ".tif") && !strings.HasSuffix(lower, ".tiff") {
			continue
		}

		switch {
		case dataFileRe.MatchString(name):
			m := dataFileRe.FindStringSubmatch(name)
			timeSet[m[1]] = true
			scan, _ := strconv.Atoi(m[2])
			scanSet[scan] = true
		case pumpoffDataRe.MatchString(name):
			m := pumpoffDataRe.FindStringSubmatch(name)
			scan, _ := strconv.Atoi(m[1])
			scanSet[scan] = true
			c.pumpoffDataFiles[scan] = name
		case pumponBgRe.MatchString(name):
			c.pumponBackgrounds = append(c.pumponBackgrounds, name)
		case pumpoffBgRe.MatchString(name):
			c.pumpoffBackgrounds = append(c.pumpoffBackgrounds, name)
		}
	}

	c.timePoints = sortTimePoints(lo.Keys(timeSet))
	c.scans = lo.Uniq(lo.Keys(scanSet))
	sort.Ints(c.scans)

	c.acquisitionDate = parseAcquisitionDate(filepath.Base(dir))
	if !dirDateRe.MatchString(filepath.Base(dir)) {
		c.warnings = append(c.warnings, fmt.Sprintf("directory name %q has no acquisition date, defaulting to %s", filepath.Base(dir), c.acquisitionDate))
	}

	tagfile := filepath.Join(dir, "tagfile.txt")
	tags, err := parseTagfile(tagfile)
	if err != nil {
		c.warnings = append(c.warnings, err.Error())
		tags = map[string]string{}
	}

	c.fluence = parseTagFloat(tags, "Fluence", &c.warnings)
	c.current = parseTagFloat(tags, "Current", &c.warnings)
	c.exposure = parseTagFloat(tags, "Exposure", &c.warnings)
	c.energy = parseTagFloat(tags, "Energy", &c.warnings)

	return c, nil
}

// Close releases no resources; it exists to make the Corpus lifecycle
// (open / immutable / close) explicit at call sites.
func (c *Corpus) Close() error { return nil }

// TimePoints returns the sorted (by numeric value), deduplicated set of
// time-delay strings, in their canonical "+1.00"/"-5.50" form.
func (c *Corpus) TimePoints() []string { return append([]string(nil), c.timePoints...) }

// Scans returns the sorted, deduplicated set of scan numbers.
func (c *Corpus) Scans() []int { return append([]int(nil), c.scans...) }

// AcquisitionDate returns the directory-derived acquisition timestamp
// string, or "0.0.0.0.0" if the directory name did not match.
func (c *Corpus) AcquisitionDate() string { return c.acquisitionDate }

func (c *Corpus) Fluence() float64  { return c.fluence }
func (c *Corpus) Current() float64  { return c.current }
func (c *Corpus) Exposure() float64 { return c.exposure }
func (c *Corpus) Energy() float64   { return c.energy }

// Warnings returns any non-fatal issues encountered while parsing the
// directory name or tagfile.txt.
func (c *Corpus) Warnings() []string { return append([]string(nil), c.warnings...) }

// RawData loads the pump-on data frame for the given time delay and
// scan, following the canonical filename convention.
func (c *Corpus) RawData(timedelay float64, scan int) (*imageio.Frame, error) {
	path := filepath.Join(c.dir, dataFilename(timedelay, scan))
	return imageio.Read(path)
}

// PumpOffRawData loads the pump-off data frame for the given scan, if
// one was indexed at Open time.
func (c *Corpus) PumpOffRawData(scan int) (*imageio.Frame, error) {
	name, ok := c.pumpoffDataFiles[scan]
	if !ok {
		return nil, fmt.Errorf("%w: no pump-off frame for scan %d", errs.ErrImageNotFound, scan)
	}
	return imageio.Read(filepath.Join(c.dir, name))
}

// PumpOnBackgroundFiles returns the absolute paths of every pump-on
// background frame found at Open time.
func (c *Corpus) PumpOnBackgroundFiles() []string { return c.joinDir(c.pumponBackgrounds) }

// PumpOffBackgroundFiles returns the absolute paths of every pump-off
// background frame found at Open time.
func (c *Corpus) PumpOffBackgroundFiles() []string { return c.joinDir(c.pumpoffBackgrounds) }

// Dir returns the raw directory this corpus indexes.
func (c *Corpus) Dir() string { return c.dir }

func (c *Corpus) joinDir(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(c.dir, n)
	}
	return out
}

func dataFilename(timedelay float64, scan int) string {
	sign := "+"
	if timedelay < 0 {
		sign = ""
	}
	return fmt.Sprintf("data.timedelay.%s%.2f.nscan.%02d.pumpon.tif", sign, timedelay, scan)
}

func sortTimePoints(points []string) []string {
	sort.Slice(points, func(i, j int) bool {
		vi, _ := strconv.ParseFloat(points[i], 64)
		vj, _ := strconv.ParseFloat(points[j], 64)
		return vi < vj
	})
	return points
}

func parseAcquisitionDate(dirName string) string {
	m := dirDateRe.FindString(dirName)
	m = strings.TrimSuffix(m, ".")
	if m == "" {
		return "0.0.0.0.0"
	}
	return m
}

func parseTagfile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open tagfile: %v", errs.ErrCorpusMalformed, err)
	}
	defer f.Close()

	tags := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		tags[key] = val
	}
	return tags, scanner.Err()
}

// Validate runs consistency checks across the indexed directory,
// grounded on the same quality-assurance spirit as a sonar file's ping
// consistency report. It reports an index with no time delays or no
// scans. Time delays and scans are held as deduplicated sets, so the
// (timedelay, scan) pair check finds no duplicates, and the number of
// pump-on frames present per delay is not compared. It never fails;
// problems are returned as CorpusMalformed-wrapped errors for the caller
// to log.
func (c *Corpus) Validate() []error {
	var problems []error

	if len(c.timePoints) == 0 {
		problems = append(problems, fmt.Errorf("%w: no time delays found in %s", errs.ErrCorpusMalformed, c.dir))
	}
	if len(c.scans) == 0 {
		problems = append(problems, fmt.Errorf("%w: no scans found in %s", errs.ErrCorpusMalformed, c.dir))
	}

	seen := make(map[string]bool)
	for _, t := range c.timePoints {
		for _, s := range c.scans {
			key := fmt.Sprintf("%s/%d", t, s)
			if seen[key] {
				problems = append(problems, fmt.Errorf("%w: duplicate (timedelay, scan) pair %s", errs.ErrCorpusMalformed, key))
			}
			seen[key] = true
		}
	}

	return problems
}

func parseTagFloat(tags map[string]string, key string, warnings *[]string) float64 {
	raw, ok := tags[key]
	if !ok {
		return 0.0
	}
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.TrimSuffix(raw, "s")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("tagfile field %q: %v, defaulting to 0.0", key, err))
		return 0.0
	}
	return v
}

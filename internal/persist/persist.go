// Package persist saves and loads the zone list to a small CSV-like file
// format, periodically re-saving whenever the zone list's version has
// changed since the last write.
package persist

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nitrogenlogic/zoned/internal/zones"
)

// FormatVersion is the current on-disk zone file format version written by
// Save. Load accepts any version from 1 through FormatVersion.
const FormatVersion = 5

// FileName is the name of the zone save file within a save directory.
const FileName = "zones.knd"

// legacyAngleScale rescales zone bounds written by format versions before 3,
// which used a different lens viewing angle (tan(28)/tan(35)).
const legacyAngleScale = 0.759359765

// TiltStore is the subset of the camera pipeline persist needs: a place to
// read and write the requested motor tilt angle, saved and restored
// alongside zones.
type TiltStore interface {
	Tilt() int
	SetTilt(degrees int)
}

// Saver periodically saves a zone list to disk whenever its version has
// changed, and can load a previously saved zone list back in.
type Saver struct {
	zones   *zones.ZoneList
	tilt    TiltStore
	dir     string
	interval time.Duration

	lastVersion uint32
}

// New creates a Saver that saves zl (and the tilt reported by tilt) into
// dir, no more often than interval. dir must already exist and be writable.
func New(zl *zones.ZoneList, tilt TiltStore, dir string, interval time.Duration) (*Saver, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checking save directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("save location %q is not a directory", dir)
	}

	return &Saver{
		zones:       zl,
		tilt:        tilt,
		dir:         dir,
		interval:    interval,
		lastVersion: zl.GetVersion(),
	}, nil
}

func (s *Saver) path() string {
	return filepath.Join(s.dir, FileName)
}

// Save unconditionally writes the zone list to a temporary file in the save
// directory, then renames it over the target file, so readers never observe
// a partially-written save.
func (s *Saver) Save() error {
	tmpPath := s.path() + ".tmp"
	target := s.path()

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("opening zone save file %q: %w", tmpPath, err)
	}

	w := bufio.NewWriter(f)
	tilt := 0
	if s.tilt != nil {
		tilt = s.tilt.Tilt()
	}

	fmt.Fprintf(w, "%d\n", FormatVersion)
	fmt.Fprintf(w, "%d\n", tilt)
	fmt.Fprintf(w, "%d\n", s.zones.Count())

	var writeErr error
	s.zones.Each(func(z *zones.Zone) {
		if writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintf(w, "%s,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d\n",
			z.Name,
			int(z.XMin), int(z.YMin), int(z.ZMin),
			int(z.XMax), int(z.YMax), int(z.ZMax),
			int(z.OccupiedParam), z.RisingThreshold, z.FallingThreshold,
			z.RisingDelay, z.FallingDelay)
	})

	if writeErr == nil {
		writeErr = w.Flush()
	}
	if syncErr := f.Sync(); writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing zone save file %q: %w", tmpPath, writeErr)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("renaming zone save file %q to %q: %w", tmpPath, target, err)
	}

	s.lastVersion = s.zones.GetVersion()
	return nil
}

// CheckSave saves the zone list if its version has changed since the last
// save. It does not itself rate-limit; callers should invoke it on a timer
// no more often than the configured interval.
func (s *Saver) CheckSave() error {
	version := s.zones.GetVersion()
	if version == s.lastVersion {
		return nil
	}
	return s.Save()
}

// Load reads a previously saved zone file, adding its zones to zl (existing
// zones are left untouched) and restoring tilt if the file format carries
// it. Returns the number of zones read.
func Load(zl *zones.ZoneList, tilt TiltStore, dir string) (int, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening zone save file %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	fileVersion, err := readInt(scanner, "file version")
	if err != nil {
		return 0, err
	}
	if fileVersion < 1 || fileVersion > FormatVersion {
		return 0, fmt.Errorf("zone file version %d is unsupported (only versions 1-%d are supported)", fileVersion, FormatVersion)
	}

	if fileVersion >= 2 {
		tiltVal, err := readInt(scanner, "motor tilt")
		if err != nil {
			return 0, err
		}
		if tilt != nil {
			tilt.SetTilt(tiltVal)
		}
	}

	count, err := readInt(scanner, "zone count")
	if err != nil {
		return 0, err
	}

	read := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := loadZoneLine(zl, fileVersion, line); err != nil {
			continue
		}
		read++
	}
	if err := scanner.Err(); err != nil {
		return read, fmt.Errorf("reading zone save file %q: %w", path, err)
	}
	if read != count {
		return read, fmt.Errorf("zone count mismatch in %q: read %d zones, expected %d", path, read, count)
	}

	return read, nil
}

func readInt(scanner *bufio.Scanner, what string) (int, error) {
	if !scanner.Scan() {
		return 0, fmt.Errorf("reading %s: unexpected end of file", what)
	}
	v, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", what, err)
	}
	return v, nil
}

// loadZoneLine parses and adds a single zone line in whichever sub-format
// fileVersion implies, matching the reference's version-gated field layout.
func loadZoneLine(zl *zones.ZoneList, fileVersion int, line string) error {
	fields := strings.Split(line, ",")

	var name string
	var xmin, ymin, zmin, xmax, ymax, zmax float64
	var haveParams bool
	var param, rising, falling, onDelay, offDelay int

	switch {
	case fileVersion < 4:
		if len(fields) != 7 {
			return fmt.Errorf("invalid zone format (want 7 fields, got %d)", len(fields))
		}
		name = fields[0]
		var err error
		if xmin, ymin, zmin, xmax, ymax, zmax, err = parseBounds(fields[1:7]); err != nil {
			return err
		}
		if fileVersion < 3 {
			xmin *= legacyAngleScale
			xmax *= legacyAngleScale
			ymin *= legacyAngleScale
			ymax *= legacyAngleScale
		}
		// Versions before 5 stored bounds in meters as floating point.
		xmin, ymin, zmin = xmin*1000, ymin*1000, zmin*1000
		xmax, ymax, zmax = xmax*1000, ymax*1000, zmax*1000

	case fileVersion < 5:
		if len(fields) != 12 {
			return fmt.Errorf("invalid zone format (want 12 fields, got %d)", len(fields))
		}
		name = fields[0]
		var err error
		if xmin, ymin, zmin, xmax, ymax, zmax, err = parseBounds(fields[1:7]); err != nil {
			return err
		}
		xmin, ymin, zmin = xmin*1000, ymin*1000, zmin*1000
		xmax, ymax, zmax = xmax*1000, ymax*1000, zmax*1000
		if param, rising, falling, onDelay, offDelay, err = parseParams(fields[7:12]); err != nil {
			return err
		}
		haveParams = true

	default:
		if len(fields) != 12 {
			return fmt.Errorf("invalid zone format (want 12 fields, got %d)", len(fields))
		}
		name = fields[0]
		ints, err := parseInts(fields[1:7])
		if err != nil {
			return err
		}
		xmin, ymin, zmin, xmax, ymax, zmax = float64(ints[0]), float64(ints[1]), float64(ints[2]), float64(ints[3]), float64(ints[4]), float64(ints[5])
		if param, rising, falling, onDelay, offDelay, err = parseParams(fields[7:12]); err != nil {
			return err
		}
		haveParams = true
	}

	if xmin == xmax {
		xmax = xmin + 100
	}
	if ymin == ymax {
		ymax = ymin + 100
	}
	if zmin == zmax {
		zmax = zmin + 100
	}

	z, err := zl.Add(name, xmin, ymin, zmin, xmax, ymax, zmax)
	if err != nil {
		return fmt.Errorf("adding zone %q: %w", name, err)
	}

	if haveParams {
		p := zones.Param(param)
		if err := zl.SetAttr(z.Name, "param", p.String()); err != nil {
			return err
		}
		zl.SetAttr(z.Name, "on_level", strconv.Itoa(rising))
		zl.SetAttr(z.Name, "off_level", strconv.Itoa(falling))
		zl.SetAttr(z.Name, "on_delay", strconv.Itoa(onDelay))
		zl.SetAttr(z.Name, "off_delay", strconv.Itoa(offDelay))
	}

	return nil
}

func parseBounds(fields []string) (xmin, ymin, zmin, xmax, ymax, zmax float64, err error) {
	vals := make([]float64, 6)
	for i, f := range fields {
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return 0, 0, 0, 0, 0, 0, fmt.Errorf("parsing zone bound %q: %w", f, err)
		}
	}
	return vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], nil
}

func parseInts(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("parsing zone bound %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseParams(fields []string) (param, rising, falling, onDelay, offDelay int, err error) {
	vals := make([]int, 5)
	for i, f := range fields {
		vals[i], err = strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return 0, 0, 0, 0, 0, fmt.Errorf("parsing zone parameter %q: %w", f, err)
		}
	}
	return vals[0], vals[1], vals[2], vals[3], vals[4], nil
}

// Run periodically checks whether the zone list needs saving, jittering the
// check interval the way the reference's save thread does to avoid lockstep
// saves across multiple daemons sharing a filesystem.
func (s *Saver) Run(stop <-chan struct{}) {
	for {
		jitter := time.Duration(rand.Int63n(int64(100 * time.Millisecond)))
		select {
		case <-stop:
			return
		case <-time.After(s.interval + jitter):
		}
		s.CheckSave()
	}
}

package hwmon

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"codeberg.org/mutker/traystats/internal/errors"
)

// DefaultSysFSRoot is where the kernel mounts sysfs.
const DefaultSysFSRoot = "/sys"

// SysFS reads attribute files below Root. Tests point Root at a temporary
// directory.
type SysFS struct {
	Root string
}

func (s SysFS) root() string {
	if s.Root == "" {
		return DefaultSysFSRoot
	}

	return s.Root
}

// Path joins elem below the root. Absolute paths returned by Glob are
// accepted unchanged.
func (s SysFS) Path(elem ...string) string {
	p := filepath.Join(elem...)
	if strings.HasPrefix(p, s.root()) {
		return p
	}

	return filepath.Join(s.root(), p)
}

// ReadString returns the trimmed content of an attribute.
func (s SysFS) ReadString(elem ...string) (string, error) {
	errFactory := errors.New()

	b, err := os.ReadFile(s.Path(elem...))
	if err != nil {
		return "", errFactory.Wrap(ErrSensorRead, err)
	}

	return strings.TrimSpace(string(b)), nil
}

// ReadInt parses an integer attribute.
func (s SysFS) ReadInt(elem ...string) (int64, error) {
	errFactory := errors.New()

	v, err := s.ReadString(elem...)
	if err != nil {
		return 0, err
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrSensorRead, err)
	}

	return n, nil
}

// ReadFloat parses a numeric attribute and multiplies it by scale.
func (s SysFS) ReadFloat(scale float64, elem ...string) (float64, error) {
	errFactory := errors.New()

	v, err := s.ReadString(elem...)
	if err != nil {
		return 0, err
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrSensorRead, err)
	}

	return f * scale, nil
}

// Exists reports whether the path exists.
func (s SysFS) Exists(elem ...string) bool {
	_, err := os.Stat(s.Path(elem...))
	return err == nil
}

// Glob returns the sorted absolute paths matching pattern below the root.
func (s SysFS) Glob(elem ...string) []string {
	matches, _ := filepath.Glob(s.Path(elem...))
	sort.Strings(matches)

	return matches
}

// value turns a read result into a sensor, leaving it without a value when
// the read failed.
func value(t SensorType, name string, index int, v float64, err error) Sensor {
	s := Sensor{Type: t, Name: name, Index: index}
	if err == nil {
		s.Value = v
		s.HasValue = true
	}

	return s
}

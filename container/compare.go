package container

import "bytes"

// CompareReport is the structural diff returned by CompareTo: names unique
// to each side, plus names present on both sides whose bytes differ.
type CompareReport struct {
	OnlyInA []string
	OnlyInB []string
	Differ  []string
}

// Empty reports whether the two containers had no observable differences.
func (r *CompareReport) Empty() bool {
	return len(r.OnlyInA) == 0 && len(r.OnlyInB) == 0 && len(r.Differ) == 0
}

// CompareTo performs a structural diff against other: the file-set
// difference plus a per-file byte comparison for names present in both.
// Both containers should have any pending edits committed first, since
// CompareTo reads bytes straight from each working directory.
func (c *Container) CompareTo(other *Container) (*CompareReport, error) {
	report := &CompareReport{}

	aNames := make(map[string]struct{}, len(c.namePathMap))
	for _, n := range c.Names() {
		aNames[n] = struct{}{}
	}
	bNames := make(map[string]struct{}, len(other.namePathMap))
	for _, n := range other.Names() {
		bNames[n] = struct{}{}
	}

	for n := range aNames {
		if _, ok := bNames[n]; !ok {
			report.OnlyInA = append(report.OnlyInA, n)
		}
	}
	for n := range bNames {
		if _, ok := aNames[n]; !ok {
			report.OnlyInB = append(report.OnlyInB, n)
		}
	}

	for n := range aNames {
		if _, ok := bNames[n]; !ok {
			continue
		}
		aData, err := c.RawData(n, false)
		if err != nil {
			return nil, err
		}
		bData, err := other.RawData(n, false)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(aData, bData) {
			report.Differ = append(report.Differ, n)
		}
	}

	return report, nil
}

package render

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"qrservice/internal/domain"
)

var recoveryLevels = map[domain.Level]qrcode.RecoveryLevel{
	domain.LevelL: qrcode.Low,
	domain.LevelM: qrcode.Medium,
	domain.LevelQ: qrcode.High,
	domain.LevelH: qrcode.Highest,
}

// encode builds the QR symbol for words. minVersion is a floor: the encoder
// picks the smallest version that fits and is never below minVersion.
func encode(words string, minVersion int, level domain.Level) (*qrcode.QRCode, error) {
	rl, ok := recoveryLevels[level]
	if !ok {
		return nil, fmt.Errorf("%w: level must be one of: L, M, Q, H", domain.ErrInvalidParameter)
	}

	q, err := qrcode.New(words, rl)
	if err != nil {
		return nil, fmt.Errorf("%w: words cannot be encoded at level %s: %v", domain.ErrInvalidParameter, level, err)
	}
	if q.VersionNumber >= minVersion {
		return q, nil
	}

	q, err = qrcode.NewWithForcedVersion(words, minVersion, rl)
	if err != nil {
		return nil, fmt.Errorf("%w: words cannot be encoded at version %d: %v", domain.ErrInvalidParameter, minVersion, err)
	}
	return q, nil
}

// symbolSize is the module count of one side, quiet zone excluded.
func symbolSize(version int) int {
	return 17 + 4*version
}

// alignmentCenters lists the row/column centers of alignment patterns per version.
var alignmentCenters = [...][]int{
	nil, nil,
	{6, 18}, {6, 22}, {6, 26}, {6, 30}, {6, 34},
	{6, 22, 38}, {6, 24, 42}, {6, 26, 46}, {6, 28, 50}, {6, 30, 54}, {6, 32, 58}, {6, 34, 62},
	{6, 26, 46, 66}, {6, 26, 48, 70}, {6, 26, 50, 74}, {6, 30, 54, 78}, {6, 30, 56, 82}, {6, 30, 58, 86}, {6, 34, 62, 90},
	{6, 28, 50, 72, 94}, {6, 26, 50, 74, 98}, {6, 30, 54, 78, 102}, {6, 28, 54, 80, 106}, {6, 32, 58, 84, 110}, {6, 30, 58, 86, 114}, {6, 34, 62, 90, 118},
	{6, 26, 50, 74, 98, 122}, {6, 30, 54, 78, 102, 126}, {6, 26, 52, 78, 104, 130}, {6, 30, 56, 82, 108, 134}, {6, 34, 60, 86, 112, 138}, {6, 30, 58, 86, 114, 142}, {6, 34, 62, 90, 118, 146},
	{6, 30, 54, 78, 102, 126, 150}, {6, 24, 50, 76, 102, 128, 154}, {6, 28, 54, 80, 106, 132, 158}, {6, 32, 58, 84, 110, 136, 162}, {6, 26, 54, 82, 110, 138, 166}, {6, 30, 58, 86, 114, 142, 170},
}

// functionMask marks modules that must stay solid for scanners to lock on:
// finder patterns with their separators, timing lines and alignment patterns.
func functionMask(version int) [][]bool {
	n := symbolSize(version)
	m := make([][]bool, n)
	for i := range m {
		m[i] = make([]bool, n)
	}
	fill := func(r0, c0, size int) {
		for r := r0; r < r0+size; r++ {
			for c := c0; c < c0+size; c++ {
				if r >= 0 && r < n && c >= 0 && c < n {
					m[r][c] = true
				}
			}
		}
	}

	fill(0, 0, 8)
	fill(0, n-8, 8)
	fill(n-8, 0, 8)

	for i := 0; i < n; i++ {
		m[6][i] = true
		m[i][6] = true
	}

	if version >= 1 && version < len(alignmentCenters) {
		centers := alignmentCenters[version]
		last := len(centers) - 1
		for i, r := range centers {
			for j, c := range centers {
				if (i == 0 && j == 0) || (i == 0 && j == last) || (i == last && j == 0) {
					continue
				}
				fill(r-2, c-2, 5)
			}
		}
	}
	return m
}

package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asegStats = `# Title Segmentation Statistics
#
# Measure BrainSeg, BrainSegVol, Brain Segmentation Volume, 1234567.0, mm^3
# Measure EstimatedTotalIntraCranialVol, eTIV, Estimated Total Intracranial Volume, 1567890.5, mm^3
# Measure SurfaceHoles, SurfaceHoles, Total number of defect holes, 14, unitless
#
# ColHeaders Index SegId NVoxels Volume_mm3 StructName
  1   4      7890    7890.0  Left-Lateral-Ventricle
  2   5       234     234.5  Left-Inf-Lat-Vent
  3   7     13456   13456.0  Left-Cerebellum-White-Matter
`

func TestParseStatsMeasures(t *testing.T) {
	parsed := ParseStats(asegStats)

	assert.Equal(t, 1234567.0, parsed["BrainSegVol"])
	assert.Equal(t, 1567890.5, parsed["eTIV"])
	assert.Equal(t, 14.0, parsed["SurfaceHoles"])
}

func TestParseStatsTable(t *testing.T) {
	parsed := ParseStats(asegStats)

	table, ok := parsed["table"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, table, 3)

	assert.Equal(t, 1.0, table[0]["Index"])
	assert.Equal(t, 7890.0, table[0]["NVoxels"])
	assert.Equal(t, "Left-Lateral-Ventricle", table[0]["StructName"])
	assert.Equal(t, 234.5, table[1]["Volume_mm3"])
}

func TestParseStatsSkipsMismatchedRows(t *testing.T) {
	content := `# ColHeaders A B C
1 2 3
1 2
x y z
`
	parsed := ParseStats(content)
	table := parsed["table"].([]map[string]any)
	require.Len(t, table, 2)
	assert.Equal(t, "x", table[1]["A"])
}

func TestParseStatsEmptyFile(t *testing.T) {
	assert.Empty(t, ParseStats(""))
	assert.Empty(t, ParseStats("# just a comment\n\n"))
}

func TestParseStatsMeasureWithCommaInDescription(t *testing.T) {
	content := "# Measure Cortex, CortexVol, Total cortical gray matter volume, left and right, 450000.0, mm^3\n"
	parsed := ParseStats(content)
	assert.Equal(t, 450000.0, parsed["CortexVol"])
}

func TestParseColorLUT(t *testing.T) {
	lut := `# FreeSurferColorLUT
0   Unknown                 0   0   0   0
4   Left-Lateral-Ventricle  120 18  134 0

bad line
17  Left-Hippocampus        220 216 20  0
`
	entries := ParseColorLUT(lut)
	require.Len(t, entries, 3)
	assert.Equal(t, 4, entries[1].Index)
	assert.Equal(t, "Left-Lateral-Ventricle", entries[1].Name)
	assert.Equal(t, [3]int{120, 18, 134}, entries[1].Color)
}

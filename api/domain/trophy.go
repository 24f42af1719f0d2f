package domain

import "encoding/xml"

// TrophySummary is the aggregate embedded into profile responses and
// the friends list.
type TrophySummary struct {
	Level    int   `json:"level"`
	Progress int   `json:"progress"`
	Total    int64 `json:"total"`
	Bronze   int64 `json:"bronze"`
	Silver   int64 `json:"silver"`
	Gold     int64 `json:"gold"`
	Platinum int64 `json:"platinum"`
}

// Point weights per trophy grade.
const (
	PointsBronze   = 15
	PointsSilver   = 30
	PointsGold     = 90
	PointsPlatinum = 300
)

// DefaultTrophySummary is what a user without trophy data reports.
func DefaultTrophySummary() TrophySummary {
	return TrophySummary{Level: 1}
}

type levelRange struct {
	startLevel     int
	endLevel       int
	pointsPerLevel int64
	startPoints    int64
}

var levelRanges = [...]levelRange{
	{1, 99, 60, 0},
	{100, 199, 90, 5940},
	{200, 299, 450, 14940},
	{300, 399, 900, 59940},
	{400, 499, 1350, 149940},
	{500, 599, 1800, 284940},
	{600, 699, 2250, 464940},
	{700, 799, 2700, 689940},
	{800, 899, 3150, 959940},
	{900, 999, 3600, 1274940},
}

// CalculateTrophyLevel maps accumulated trophy points to a level and a
// 0-99 progress percentage within that level. Negative input clamps to
// zero; points past the last band clamp to level 999, progress 100.
func CalculateTrophyLevel(points int64) (level, progress int) {
	if points < 0 {
		points = 0
	}

	for _, r := range levelRanges {
		rangePoints := int64(r.endLevel-r.startLevel+1) * r.pointsPerLevel
		if points < r.startPoints+rangePoints {
			offset := points - r.startPoints
			level = r.startLevel + int(offset/r.pointsPerLevel)
			progress = int(offset % r.pointsPerLevel * 100 / r.pointsPerLevel)
			return level, progress
		}
	}

	return 999, 100
}

type trophiesXML struct {
	XMLName  xml.Name    `xml:"trophies"`
	Trophies []trophyXML `xml:"trophy"`
}

type trophyXML struct {
	UnlockedCount int64 `xml:"unlocked_count,attr"`
	Bronze        int64 `xml:"bronze,attr"`
	Silver        int64 `xml:"silver,attr"`
	Gold          int64 `xml:"gold,attr"`
	Platinum      int64 `xml:"platinum,attr"`
}

// TrophySummaryFromXML aggregates a trophies.xml document. Unreadable
// or malformed documents yield the default summary; a missing
// unlocked_count falls back to the per-grade sum.
func TrophySummaryFromXML(data []byte) TrophySummary {
	summary := DefaultTrophySummary()

	var doc trophiesXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return summary
	}

	var unlocked int64
	for _, t := range doc.Trophies {
		unlocked += t.UnlockedCount
		summary.Bronze += t.Bronze
		summary.Silver += t.Silver
		summary.Gold += t.Gold
		summary.Platinum += t.Platinum
	}

	summary.Total = unlocked
	if unlocked == 0 {
		summary.Total = summary.Bronze + summary.Silver + summary.Gold + summary.Platinum
	}

	points := summary.Bronze*PointsBronze +
		summary.Silver*PointsSilver +
		summary.Gold*PointsGold +
		summary.Platinum*PointsPlatinum
	summary.Level, summary.Progress = CalculateTrophyLevel(points)

	return summary
}

package repo

// Cache key namespace. Values are JSON-serialized entities, lists, or
// statistics rollups; TTLs come from the repository configuration.

func plannerKey(id string) string          { return "planner:" + id }
func plannerSectionsKey(id string) string  { return "planner-sections:" + id }
func plannerStatsKey(id string) string     { return "planner-stats:" + id }
func sectionKey(id string) string          { return "section:" + id }
func sectionActivitiesKey(id string) string { return "section-activities:" + id }
func sectionStatsKey(id string) string     { return "section-stats:" + id }
func activityKey(id string) string         { return "activity:" + id }

// PlannerStatsKey and SectionStatsKey are exported for the service
// layer, which owns reading and populating the statistics cache.
func PlannerStatsKey(id string) string { return plannerStatsKey(id) }
func SectionStatsKey(id string) string { return sectionStatsKey(id) }

package web

// NavItem is one sidebar entry.
type NavItem struct {
	Label  string
	Href   string
	Active bool
}

var navigation = []NavItem{
	{Label: "Dashboard", Href: "/dashboard"},
	{Label: "Activity", Href: "/dashboard/activity"},
	{Label: "Settings", Href: "/dashboard/settings"},
}

// Navigation returns the sidebar for path. An item is active only on an exact match.
func Navigation(path string) []NavItem {
	out := make([]NavItem, len(navigation))
	for i, item := range navigation {
		item.Active = item.Href == path
		out[i] = item
	}
	return out
}

// Metric is a dashboard card.
type Metric struct {
	Title  string
	Value  string
	Detail string
}

// Activity is a recent activity row.
type Activity struct {
	Label string
	When  string
}

// DashboardMetrics are the static dashboard cards.
var DashboardMetrics = []Metric{
	{Title: "Daily Steps", Value: "8,234", Detail: "+20% from yesterday"},
	{Title: "Sleep", Value: "7h 23m", Detail: "+45m from previous night"},
	{Title: "Heart Rate", Value: "72 BPM", Detail: "Normal range"},
}

// RecentActivity is the static activity feed.
var RecentActivity = []Activity{
	{Label: "Completed 30 minutes of cardio", When: "Today"},
	{Label: "Logged 8 glasses of water", When: "1d ago"},
	{Label: "Achieved sleep goal", When: "2d ago"},
	{Label: "New personal record: 10,000 steps", When: "3d ago"},
}

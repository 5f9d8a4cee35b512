package gate

import (
	"healthydb/cmd/internal/auth/authctx"
	"healthydb/cmd/internal/metrics"
)

// Action is a Client gate directive.
type Action string

const (
	// Wait shows a neutral waiting indicator; never protected content, never a redirect.
	Wait Action = "wait"
	// Render shows the page.
	Render Action = "render"
	// Redirect replaces the route with Location.
	Redirect Action = "redirect"
)

// Decision is the outcome of Client.Evaluate.
type Decision struct {
	Action   Action `json:"action"`
	Location string `json:"location,omitempty"`
}

// Client evaluates the table against an Auth Context state.
type Client struct {
	table   Table
	metrics *metrics.Metrics
}

// NewClient builds a Client. m may be nil.
func NewClient(table Table, m *metrics.Metrics) *Client {
	return &Client{table: table, metrics: m}
}

// Evaluate returns the directive for path given st.
func (c *Client) Evaluate(path string, st authctx.State) Decision {
	d := c.evaluate(path, st)
	c.metrics.GateDecision("client", string(d.Action))
	return d
}

func (c *Client) evaluate(path string, st authctx.State) Decision {
	if !c.table.Matches(path) {
		return Decision{Action: Render}
	}
	// Nothing is decided on a loading state; on the entry page that simply means render.
	if st.Loading {
		if c.table.IsProtected(path) {
			return Decision{Action: Wait}
		}
		return Decision{Action: Render}
	}
	if loc := c.table.Decide(path, st.User != nil); loc != "" {
		return Decision{Action: Redirect, Location: loc}
	}
	return Decision{Action: Render}
}

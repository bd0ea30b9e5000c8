package detect

// Selectors are the ordered cascades the engine walks. Each list is ordered
// by confidence; the first hit wins.
type Selectors struct {
	// Roots locate the main content area. The list should end with a
	// selector that always matches.
	Roots []string `yaml:"roots"`
	// Containers are unioned to enumerate message containers.
	Containers []string `yaml:"containers"`
	// Phrases mark a container as clipped when found in its text.
	Phrases []string `yaml:"phrases"`
	// Controls locate the expand control inside a clipped container.
	Controls []string `yaml:"controls"`
}

// DefaultSelectors matches Gmail's markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Roots: []string{`div[role="main"]`, "body"},
		Containers: []string{
			`div[role="article"]`,
			`div[data-message-id]`,
			`div.a3s`,
		},
		Phrases: []string{
			"[Message clipped]",
			"View entire message",
			"Show trimmed content",
		},
		Controls: []string{
			`a[href*="view=lg"]`,
			`a[href*="&view=full"]`,
			`div.iX a[target="_blank"]`,
			`button[aria-label*="entire message"]`,
			`button[aria-label*="trimmed"]`,
			`div[data-message-clipped="true"] a`,
		},
	}
}

// WithDefaults fills empty lists from DefaultSelectors.
func (s Selectors) WithDefaults() Selectors {
	d := DefaultSelectors()
	if len(s.Roots) == 0 {
		s.Roots = d.Roots
	}
	if len(s.Containers) == 0 {
		s.Containers = d.Containers
	}
	if len(s.Phrases) == 0 {
		s.Phrases = d.Phrases
	}
	if len(s.Controls) == 0 {
		s.Controls = d.Controls
	}
	return s
}

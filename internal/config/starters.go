package config

// CategorySeed describes a category created on first run.
type CategorySeed struct {
	Name        string
	Description string
}

// StarterCategories returns the default categories seeded into a fresh
// database. Users can add or remove categories afterwards.
func StarterCategories() []CategorySeed {
	return []CategorySeed{
		{
			Name:        "health",
			Description: "Physical and mental wellbeing: exercise, sleep, appointments, nutrition.",
		},
		{
			Name:        "career",
			Description: "Professional growth: job tasks, networking, promotions, side projects with income potential.",
		},
		{
			Name:        "learning",
			Description: "Skill acquisition and study: courses, books, practice, research without an immediate career payoff.",
		},
	}
}

package domain

type Platform struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Slug     string `json:"slug,omitempty" yaml:"slug,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

type Skill struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Slug     string `json:"slug,omitempty" yaml:"slug,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

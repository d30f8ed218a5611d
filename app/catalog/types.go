package catalog

// FeedDescriptor describes a single RSS/Atom source from the static catalog.
// URL is the natural key used across health tracking, preferences, and the
// durable store.
type FeedDescriptor struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Category    string `yaml:"category"`
	Subcategory string `yaml:"subcategory,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Language    string `yaml:"language,omitempty"`
}

type catalogFile struct {
	Feeds []FeedDescriptor `yaml:"feeds"`
}

package fetch

import "fmt"

// Built-in tile providers, addressable by name from configuration.
var providers = map[string]Descriptor{
	"osm": {
		Name:       "OpenStreetMap",
		Kind:       "http",
		URL:        "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
		Subdomains: []string{"a", "b", "c"},
		Format:     "png",
		Hint:       HintRaster,
		MaxLevel:   19,
	},
	"opentopo": {
		Name:       "OpenTopoMap",
		Kind:       "http",
		URL:        "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png",
		Subdomains: []string{"a", "b", "c"},
		Format:     "png",
		Hint:       HintRaster,
		MaxLevel:   17,
	},
	"carto-light": {
		Name:       "Carto Light",
		Kind:       "http",
		URL:        "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}.png",
		Subdomains: []string{"a", "b", "c", "d"},
		Format:     "png",
		Hint:       HintRaster,
		MaxLevel:   20,
	},
}

// Provider returns a built-in descriptor by name.
func Provider(name string) (Descriptor, error) {
	desc, ok := providers[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown tile provider: %s", name)
	}
	return desc, nil
}

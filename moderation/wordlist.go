package moderation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WordList is the on-disk format of the banned word list.
type WordList struct {
	Words []string `yaml:"words"`
}

// DefaultWords is used when no word list file is configured.
func DefaultWords() []string {
	return []string{
		"idiota", "estupido", "imbecil", "tonto", "pendejo", "baboso",
		"idiot", "stupid", "moron", "dumbass", "shut up",
	}
}

// LoadWordList reads a YAML word list.
func LoadWordList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read word list: %w", err)
	}
	var list WordList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse word list %s: %w", path, err)
	}
	if len(list.Words) == 0 {
		return nil, fmt.Errorf("word list %s is empty", path)
	}
	return list.Words, nil
}

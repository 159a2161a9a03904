package keys

import "fmt"

// Level is the credential level a key is granted on the server.
type Level string

const (
	LevelAdmin Level = "admin"
	LevelBuild Level = "build"
)

func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelAdmin, LevelBuild:
		return Level(s), nil
	default:
		return "", fmt.Errorf("unknown key level %q (expected admin or build)", s)
	}
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

package voice

import "fmt"

// Persona selects the synthesized voice for a live session. The choice is
// fixed for the lifetime of a connection; changing it means a full
// reconnect.
type Persona string

const (
	PersonaPuck   Persona = "Puck"
	PersonaCharon Persona = "Charon"
	PersonaKore   Persona = "Kore"
	PersonaFenrir Persona = "Fenrir"
	PersonaZephyr Persona = "Zephyr"
)

// DefaultPersona is used when the client does not pick a voice.
const DefaultPersona = PersonaPuck

var personaLabels = map[Persona]string{
	PersonaPuck:   "Puck (Energetic)",
	PersonaCharon: "Charon (Gentle)",
	PersonaKore:   "Kore (Balanced)",
	PersonaFenrir: "Fenrir (Deep)",
	PersonaZephyr: "Zephyr (Soft)",
}

// Personas returns the fixed voice catalog in display order.
func Personas() []Persona {
	return []Persona{PersonaPuck, PersonaCharon, PersonaKore, PersonaFenrir, PersonaZephyr}
}

// Valid reports whether p is part of the catalog.
func (p Persona) Valid() bool {
	_, ok := personaLabels[p]
	return ok
}

// Label returns the human-readable name shown in voice pickers.
func (p Persona) Label() string {
	if l, ok := personaLabels[p]; ok {
		return l
	}
	return string(p)
}

// ParsePersona validates a client-supplied voice name.
func ParsePersona(s string) (Persona, error) {
	p := Persona(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown voice persona %q", s)
	}
	return p, nil
}

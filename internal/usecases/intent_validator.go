package usecases

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// Colombian plates: ABC123 cars, ABC12D motorbikes, AB1234 legacy trailers.
var platePattern = regexp.MustCompile(`^(?:[A-Z]{3}[0-9]{3}|[A-Z]{3}[0-9]{2}[A-Z]|[A-Z]{2}[0-9]{4})$`)

// Split plates are only recognized in the car and motorbike shapes. Two
// letters next to four digits is too common in prose ("de 2024").
var (
	splitPrefix = regexp.MustCompile(`^[A-Z]{3}$`)
	splitSuffix = regexp.MustCompile(`^(?:[0-9]{3}|[0-9]{2}[A-Z])$`)
)

func isPlateRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '.' {
			return -1
		}
		return r
	}, s)
}

// ExtractPlate finds a vehicle plate in free text such as "HHO137",
// "placa: hho-137" or "mi placa es HHO 137".
func ExtractPlate(raw string) (entities.PlateQuery, error) {
	text := strings.ToUpper(strings.TrimSpace(raw))
	if text == "" {
		return entities.PlateQuery{}, &ValidationError{Reason: ReasonEmptyMessage}
	}

	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return !isPlateRune(r) && r != '-' && r != '.'
	})
	for i := range tokens {
		tokens[i] = stripSeparators(tokens[i])
	}

	for _, tok := range tokens {
		if platePattern.MatchString(tok) {
			return entities.PlateQuery{Plate: tok}, nil
		}
	}

	// "HHO 137"
	for i := 0; i+1 < len(tokens); i++ {
		if splitPrefix.MatchString(tokens[i]) && splitSuffix.MatchString(tokens[i+1]) {
			return entities.PlateQuery{Plate: tokens[i] + tokens[i+1]}, nil
		}
	}

	// "H H O 1 3 7"
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '.' {
			return -1
		}
		return r
	}, text)
	if len(compact) == 6 && splitPrefix.MatchString(compact[:3]) && splitSuffix.MatchString(compact[3:]) {
		return entities.PlateQuery{Plate: compact}, nil
	}

	return entities.PlateQuery{}, &ValidationError{Reason: ReasonPlateNotFound}
}

package detection

import "fmt"

// ClassTable maps model class indices to labels
type ClassTable []string

// DefaultClasses is the label order of the bundled wildlife model
var DefaultClasses = ClassTable{
	"Elephant",
	"Wild Boar",
	"Cattle",
	"Leopard",
	"Cheetah",
	"Human",
}

// Label returns the label for a class index
func (t ClassTable) Label(id int) string {
	if id < 0 || id >= len(t) {
		return fmt.Sprintf("class_%d", id)
	}
	return t[id]
}

// Contains reports whether the label is known to the table
func (t ClassTable) Contains(label string) bool {
	for _, l := range t {
		if l == label {
			return true
		}
	}
	return false
}

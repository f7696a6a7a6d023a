package grocery

import (
	"regexp"
	"strconv"
	"strings"
)

// NoListSentinel is the exact phrase the extraction prompt instructs the model
// to emit when the document does not contain a grocery list.
const NoListSentinel = "No grocery list found."

// Item is one extracted grocery entry. Quantity is always positive; records
// without a parsable quantity are dropped during parsing rather than emitted
// half-built.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
}

var leadingQuantity = regexp.MustCompile(`^(\d+)\s+(.+)$`)

// ParseItems parses model output of the form "- <name>, <unit>" into items,
// one per line. The quantity is taken from the line itself when embedded
// ("- 2 Milk, liter"), otherwise looked up in sourceText, the raw document
// text the model was given. Lines that do not match the expected shape, and
// lines whose quantity cannot be recovered from either place, are skipped.
func ParseItems(output, sourceText string) []Item {
	var items []Item
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if content == "" {
			continue
		}

		name := content
		unit := ""
		if idx := strings.LastIndex(content, ","); idx >= 0 {
			name = strings.TrimSpace(content[:idx])
			unit = strings.TrimSpace(content[idx+1:])
		}

		quantity := 0
		if m := leadingQuantity.FindStringSubmatch(name); m != nil {
			quantity, _ = strconv.Atoi(m[1])
			name = strings.TrimSpace(m[2])
		}
		if name == "" {
			continue
		}
		if quantity <= 0 {
			quantity = quantityFromSource(sourceText, name)
		}
		if quantity <= 0 {
			continue
		}

		items = append(items, Item{Name: name, Quantity: quantity, Unit: unit})
	}
	return items
}

var integers = regexp.MustCompile(`\d+`)

// quantityFromSource scans the raw document text for the item name and takes
// the nearest integer preceding it, the shape OCR output takes for lines like
// "2 apples, 1 loaf bread".
func quantityFromSource(sourceText, name string) int {
	fields := strings.Fields(strings.ToLower(name))
	if len(fields) == 0 || sourceText == "" {
		return 0
	}
	needle := fields[0]
	for _, line := range strings.Split(strings.ToLower(sourceText), "\n") {
		idx := strings.Index(line, needle)
		if idx < 0 {
			continue
		}
		nums := integers.FindAllString(line[:idx], -1)
		if len(nums) == 0 {
			nums = integers.FindAllString(line[idx:], -1)
			if len(nums) == 0 {
				continue
			}
			quantity, _ := strconv.Atoi(nums[0])
			return quantity
		}
		quantity, _ := strconv.Atoi(nums[len(nums)-1])
		return quantity
	}
	return 0
}

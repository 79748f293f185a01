package appraisal

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// PipelineStage is one pass of the appraisal pipeline. Parse, when set, checks the raw model
// output before it becomes visible to later stages.
type PipelineStage struct {
	Order          int       `json:"order"`
	Key            string    `json:"key"`
	Type           StageType `json:"type"`
	Title          string    `json:"title"`
	InputVariables []string  `json:"input_variables"`
	Template       string    `json:"template"`
	UsePhotos      bool      `json:"use_photos,omitempty"`

	Parse func(raw string) (any, error) `json:"-"`
}

var (
	placeholderRe = regexp.MustCompile(`\{\{\s*([a-z0-9_]+)\s*\}\}`)
	passOutputRe  = regexp.MustCompile(`^pass([0-9]+)_output$`)
)

// AttributeVariables are the product attribute names a stage may reference.
var AttributeVariables = []string{
	"photos", "brand", "model", "reference_number", "movement", "case_size",
	"condition", "box_papers", "existing_listing_links", "msrp_link", "cost",
}

// SystemVariables are supplied by the pipeline itself rather than by the product.
var SystemVariables = []string{"pricing_defaults"}

func isStaticVariable(name string) bool {
	for _, a := range AttributeVariables {
		if a == name {
			return true
		}
	}
	for _, s := range SystemVariables {
		if s == name {
			return true
		}
	}
	return false
}

// ValidateStages rejects pipelines whose stages are out of order or that reference outputs
// not produced by an earlier stage.
func ValidateStages(stages []PipelineStage) error {
	if len(stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	seenKeys := map[string]bool{}
	orders := map[int]bool{}
	prev := 0
	for _, st := range stages {
		if st.Order < 1 || st.Order > 6 {
			return fmt.Errorf("stage %q: order %d outside 1-6", st.Key, st.Order)
		}
		if st.Order <= prev {
			return fmt.Errorf("stage %q: order %d not strictly increasing", st.Key, st.Order)
		}
		prev = st.Order
		if strings.TrimSpace(st.Key) == "" {
			return fmt.Errorf("stage %d: key is required", st.Order)
		}
		if seenKeys[st.Key] {
			return fmt.Errorf("stage %q: duplicate key", st.Key)
		}
		seenKeys[st.Key] = true
		if st.Type != StageTypeText && st.Type != StageTypeJSONConfig {
			return fmt.Errorf("stage %q: unknown type %q", st.Key, st.Type)
		}

		declared := map[string]bool{}
		for _, v := range st.InputVariables {
			if err := checkReference(st, v, orders); err != nil {
				return err
			}
			declared[v] = true
		}
		for _, m := range placeholderRe.FindAllStringSubmatch(st.Template, -1) {
			if !declared[m[1]] {
				return fmt.Errorf("%w: stage %q template uses undeclared variable %q", ErrStageDependencyUnresolved, st.Key, m[1])
			}
		}
		orders[st.Order] = true
	}
	return nil
}

func checkReference(st PipelineStage, name string, produced map[int]bool) error {
	if isStaticVariable(name) {
		return nil
	}
	m := passOutputRe.FindStringSubmatch(name)
	if m == nil {
		return fmt.Errorf("%w: stage %q references unknown variable %q", ErrStageDependencyUnresolved, st.Key, name)
	}
	n, _ := strconv.Atoi(m[1])
	if n >= st.Order {
		return fmt.Errorf("%w: stage %q (order %d) references %s from a later or same stage", ErrStageDependencyUnresolved, st.Key, st.Order, name)
	}
	if !produced[n] {
		return fmt.Errorf("%w: stage %q references %s but no stage %d precedes it", ErrStageDependencyUnresolved, st.Key, name, n)
	}
	return nil
}

// Render substitutes {{name}} placeholders from vars. Only declared inputs are substituted;
// a declared input missing from vars is unresolved.
func Render(st PipelineStage, vars map[string]string) (string, error) {
	var missing []string
	for _, name := range st.InputVariables {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: stage %q missing %s", ErrStageDependencyUnresolved, st.Key, strings.Join(missing, ", "))
	}
	return placeholderRe.ReplaceAllStringFunc(st.Template, func(tok string) string {
		name := placeholderRe.FindStringSubmatch(tok)[1]
		return vars[name]
	}), nil
}

// attributeVars renders product attributes as prompt variables. Unknown values read as
// "not provided" so that optional attributes never block a stage.
func attributeVars(a ProductAttributes) map[string]string {
	orNA := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "not provided"
		}
		return strings.TrimSpace(s)
	}
	list := func(v []string) string {
		if len(v) == 0 {
			return "not provided"
		}
		return strings.Join(v, "\n")
	}
	cost := "not provided"
	if a.Cost != nil {
		cost = strconv.FormatFloat(*a.Cost, 'f', 2, 64)
	}
	return map[string]string{
		"photos":                 list(a.Photos),
		"brand":                  orNA(a.Brand),
		"model":                  orNA(a.Model),
		"reference_number":       orNA(a.ReferenceNumber),
		"movement":               orNA(a.Movement),
		"case_size":              orNA(a.CaseSize),
		"condition":              orNA(a.Condition),
		"box_papers":             orNA(a.BoxPapers),
		"existing_listing_links": list(a.ExistingListingLinks),
		"msrp_link":              orNA(a.MSRPLink),
		"cost":                   cost,
	}
}

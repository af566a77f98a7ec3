package category

// Category is one of the ten fixed qualification dimensions. Key is the
// column-name prefix, Label is the human-readable form used in rationales.
type Category struct {
	Key   string
	Label string
}

// All lists the categories in canonical order. Detection, gap reporting and
// the aggregate-sum column list all iterate this slice, never a map.
var All = []Category{
	{Key: "pain", Label: "pain"},
	{Key: "metrics", Label: "metrics"},
	{Key: "champion", Label: "champion"},
	{Key: "economic_buyer", Label: "economic buyer"},
	{Key: "criteria", Label: "criteria"},
	{Key: "process", Label: "process"},
	{Key: "competition", Label: "competition"},
	{Key: "paper", Label: "paper"},
	{Key: "timing", Label: "timing"},
	{Key: "budget", Label: "budget"},
}

// MaxPerCategory is the conventional ceiling of a single category score.
const MaxPerCategory = 3

// MaxAggregate is the conventional ceiling of the aggregate health score:
// ten categories at three points each.
const MaxAggregate = 30

var companionSuffixes = []string{"_score", "_summary", "_tip", "_name", "_title"}

// extraWritable are the free-text deal fields writable outside any category.
var extraWritable = []string{"risk_summary", "next_steps", "rep_comments"}

// ScoreField returns the score column for c, e.g. "pain_score".
func (c Category) ScoreField() string {
	return c.Key + "_score"
}

// Fields returns every companion column owned by c, in fixed suffix order.
func (c Category) Fields() []string {
	out := make([]string, 0, len(companionSuffixes))
	for _, suffix := range companionSuffixes {
		out = append(out, c.Key+suffix)
	}
	return out
}

// WritableFields enumerates every column the save engine may write, in a
// deterministic order: category companions in canonical order, then the
// free-text extras. Callers must not mutate the returned slice.
func WritableFields() []string {
	return writableOrder
}

// IsWritable reports whether the save engine may write the named column.
// Anything outside this registry is dropped from updates.
func IsWritable(field string) bool {
	_, ok := writableSet[field]
	return ok
}

// Detect returns the first category, in canonical order, for which any
// companion field appears in args. It only annotates audit metadata and
// never gates a save.
func Detect(args map[string]any) (Category, bool) {
	for _, c := range All {
		for _, field := range c.Fields() {
			if _, ok := args[field]; ok {
				return c, true
			}
		}
	}
	return Category{}, false
}

var (
	writableOrder []string
	writableSet   map[string]struct{}
)

func init() {
	writableOrder = make([]string, 0, len(All)*len(companionSuffixes)+len(extraWritable))
	for _, c := range All {
		writableOrder = append(writableOrder, c.Fields()...)
	}
	writableOrder = append(writableOrder, extraWritable...)

	writableSet = make(map[string]struct{}, len(writableOrder))
	for _, f := range writableOrder {
		writableSet[f] = struct{}{}
	}
}

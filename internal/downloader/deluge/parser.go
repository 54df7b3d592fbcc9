package deluge

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/seedshare/seedshare/internal/downloader/types"
)

const (
	// fieldMarker starts every job block in `deluge-console info` output.
	fieldMarker = "Name:"

	// minBlockLength filters trailing fragments between blocks.
	minBlockLength = 16
)

// Block-level labels, as printed by deluge-console.
const (
	labelName     = "Name"
	labelID       = "ID"
	labelState    = "State"
	labelSize     = "Size"
	labelProgress = "Progress"
)

// Labels that share the State line.
var stateLabels = []string{"Down Speed:", "Up Speed:", "ETA:"}

var progressBar = regexp.MustCompile(`\[[#~]*\]`)

// ParseInfo converts the text printed by `deluge-console info` into jobs, in the order
// they appear. Blocks that cannot be parsed are skipped and reported separately so the
// caller can log them; they never fail the whole batch.
func ParseInfo(output string) ([]types.Job, []*types.ParseError) {
	jobs := make([]types.Job, 0)
	if strings.TrimSpace(output) == "" {
		return jobs, nil
	}

	var parseErrs []*types.ParseError
	for i, block := range splitBlocks(output) {
		if len(strings.TrimSpace(block)) < minBlockLength {
			continue
		}
		job, err := parseBlock(i, block)
		if err != nil {
			parseErrs = append(parseErrs, err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, parseErrs
}

// splitBlocks segments the output on the Name: marker. Progress bars are turned into
// line breaks first, since some versions print them inline.
func splitBlocks(output string) []string {
	text := strings.ReplaceAll(output, "\r\n", "\n")
	text = progressBar.ReplaceAllString(text, "\n")

	var blocks []string
	var current *strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, fieldMarker) {
			if current != nil {
				blocks = append(blocks, current.String())
			}
			current = &strings.Builder{}
		}
		if current == nil {
			continue
		}
		current.WriteString(trimmed)
		current.WriteByte('\n')
	}
	if current != nil {
		blocks = append(blocks, current.String())
	}
	return blocks
}

// blockFields maps each line's leading label to the rest of the line. Only the first
// occurrence of a label is kept.
func blockFields(block string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label = strings.TrimSpace(label)
		if _, seen := fields[label]; seen {
			continue
		}
		fields[label] = strings.TrimSpace(value)
	}
	return fields
}

func parseBlock(index int, block string) (types.Job, *types.ParseError) {
	fields := blockFields(block)

	name := fields[labelName]
	id := fields[labelID]
	state, hasState := fields[labelState]
	switch {
	case name == "":
		return types.Job{}, &types.ParseError{Block: index, Reason: "missing name"}
	case id == "":
		return types.Job{}, &types.ParseError{Block: index, Reason: "missing id"}
	case !hasState:
		return types.Job{}, &types.ParseError{Block: index, Reason: "missing state"}
	}

	job := types.Job{
		ID:     types.JobID(id),
		Name:   name,
		Status: types.ParseStatus(state),
		Size:   parseSize(fields[labelSize]),
	}

	switch {
	case strings.Contains(state, "Downloading"):
		job.Status = types.StatusDownloading
		job.Speed = parseQuantity(stateField(state, "Down Speed:"))
		if eta := stateField(state, "ETA:"); eta != "" {
			job.ETA = &eta
		}
		progress, ok := parseProgress(fields[labelProgress])
		if !ok || job.Size == nil {
			job.Status = types.StatusError
		}
		job.Progress = progress

	case strings.Contains(state, "Seeding"):
		job.Status = types.StatusCompleted
		job.Progress = 100

	default:
		if raw, present := fields[labelProgress]; present {
			progress, ok := parseProgress(raw)
			if !ok {
				job.Status = types.StatusError
			}
			job.Progress = progress
		}
	}

	return job, nil
}

// stateField returns the text following label on the State line, up to the next
// known label.
func stateField(state, label string) string {
	_, rest, ok := strings.Cut(state, label)
	if !ok {
		return ""
	}
	end := len(rest)
	for _, other := range stateLabels {
		if idx := strings.Index(rest, other); idx >= 0 && idx < end {
			end = idx
		}
	}
	return strings.TrimSpace(rest[:end])
}

// parseSize reads the total half of "<have> <unit>/<total> <unit> Ratio: ...".
func parseSize(raw string) *types.Quantity {
	if raw == "" {
		return nil
	}
	if _, total, ok := strings.Cut(raw, "/"); ok {
		raw = total
	}
	return parseQuantity(raw)
}

// parseQuantity reads "<number> <unit>" from the first two tokens.
func parseQuantity(raw string) *types.Quantity {
	tokens := strings.Fields(raw)
	if len(tokens) < 2 {
		return nil
	}
	value, err := strconv.ParseFloat(tokens[0], 64)
	if err != nil {
		return nil
	}
	return &types.Quantity{Value: value, Measure: tokens[1]}
}

// parseProgress reads "<pct>%" and clamps it into [0,100].
func parseProgress(raw string) (float64, bool) {
	tokens := strings.Fields(raw)
	if len(tokens) == 0 {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(tokens[0], "%"), 64)
	if err != nil {
		return 0, false
	}
	switch {
	case value < 0:
		value = 0
	case value > 100:
		value = 100
	}
	return value, true
}

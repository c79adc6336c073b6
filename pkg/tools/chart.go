package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/kadirpekel/sahayak/pkg/llms"
)

type ChartArgs struct {
	Query   string `json:"query" jsonschema:"required,description=What the chart should show"`
	Context string `json:"context,omitempty" jsonschema:"description=Figures or tool output the chart should be built from"`
}

// ChartPoint is one labelled value.
type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// ChartSpec is a renderer-independent chart description.
type ChartSpec struct {
	Type   string       `json:"chart_type"`
	Title  string       `json:"title"`
	XLabel string       `json:"x_label"`
	YLabel string       `json:"y_label"`
	Data   []ChartPoint `json:"data"`
}

var chartPrompt = template.Must(template.New("chart").
	Option("missingkey=error").
	Parse(`You are an expert analyst of MSME (micro, small and medium enterprise) business data
such as GST rates, government subsidy and loan schemes, market trends and business performance.
Analyse the context below for the user's query and return the result strictly in the text format
of the example. Choose a business-centric Title, x_label and y_label. Do not add any other text.

EXAMPLE:
Chart Type: bar
Title: GST Rate Comparison Across MSME Sectors
x_label: MSME Sectors
y_label: GST Rate (%)
Data: 'Manufacturing'=18, 'Services'=12, 'Trading'=5

Context:
{{.Context}}

User Query: '{{.Query}}'`))

var (
	chartTypeRe  = regexp.MustCompile(`(?i)Chart Type:\s*(\w+)`)
	titleRe      = regexp.MustCompile(`(?i)Title:[ \t]*(.+)`)
	xLabelRe     = regexp.MustCompile(`(?i)x_label:[ \t]*(.+)`)
	yLabelRe     = regexp.MustCompile(`(?i)y_label:[ \t]*(.+)`)
	dataLineRe   = regexp.MustCompile(`(?im)^[ \t]*Data:[ \t]*(.+)$`)
	headerLineRe = regexp.MustCompile(`(?i)^\s*(Chart Type|Title|x_label|y_label|User Query):`)
	dataPairRe   = regexp.MustCompile(`['"]?([\w\s&]+?)['"]?\s*[:=]\s*(-?\d+(?:\.\d+)?)`)
)

// NewChartTool asks the completion service for a chart specification and
// returns it as JSON. Rendering is left to the caller.
func NewChartTool(llm llms.Provider) Tool {
	return NewFunc("chart_maker",
		"Produce a chart specification (type, title, axis labels and data points) for comparisons or trends, such as GST rates across sectors or scheme limits. Use it when the user asks for a chart, graph, plot or visual comparison.",
		func(ctx context.Context, args ChartArgs) (Output, error) {
			if strings.TrimSpace(args.Query) == "" {
				return Output{}, &kindError{kind: KindInvalidArguments, err: fmt.Errorf("query is required")}
			}

			grounding := strings.TrimSpace(args.Context)
			if grounding == "" {
				grounding = "(none)"
			}

			var prompt strings.Builder
			if err := chartPrompt.Execute(&prompt, map[string]string{
				"Context": grounding,
				"Query":   strings.TrimSpace(args.Query),
			}); err != nil {
				return Output{}, err
			}

			resp, err := llm.Complete(ctx, llms.SystemUser("", prompt.String()), nil)
			if err != nil {
				return Output{}, err
			}

			chart, err := ParseChartSpec(resp.Text)
			if err != nil {
				return Output{}, errMalformed(err)
			}

			data, err := json.Marshal(chart)
			if err != nil {
				return Output{}, err
			}
			return Output{Payload: string(data), Data: chart}, nil
		})
}

// ParseChartSpec reads the line format produced by the chart prompt.
// Missing fields take defaults; a reply without data pairs is an error.
func ParseChartSpec(text string) (*ChartSpec, error) {
	chart := &ChartSpec{
		Type:   "bar",
		Title:  "Holistic Analysis Chart",
		XLabel: "Category",
		YLabel: "Value",
	}
	if m := chartTypeRe.FindStringSubmatch(text); m != nil {
		chart.Type = strings.ToLower(m[1])
	}
	if m := titleRe.FindStringSubmatch(text); m != nil {
		chart.Title = strings.TrimSpace(m[1])
	}
	if m := xLabelRe.FindStringSubmatch(text); m != nil {
		chart.XLabel = strings.TrimSpace(m[1])
	}
	if m := yLabelRe.FindStringSubmatch(text); m != nil {
		chart.YLabel = strings.TrimSpace(m[1])
	}

	var pairs [][]string
	if m := dataLineRe.FindStringSubmatch(text); m != nil {
		pairs = dataPairRe.FindAllStringSubmatch(m[1], -1)
	}
	if len(pairs) == 0 {
		for _, line := range strings.Split(text, "\n") {
			if !headerLineRe.MatchString(line) {
				pairs = append(pairs, dataPairRe.FindAllStringSubmatch(line, -1)...)
			}
		}
	}

	index := make(map[string]int)
	for _, m := range pairs {
		label := strings.TrimSpace(m[1])
		value, err := strconv.ParseFloat(m[2], 64)
		if label == "" || err != nil {
			continue
		}
		if i, ok := index[label]; ok {
			chart.Data[i].Value = value
			continue
		}
		index[label] = len(chart.Data)
		chart.Data = append(chart.Data, ChartPoint{Label: label, Value: value})
	}

	if len(chart.Data) == 0 {
		return nil, fmt.Errorf("no data pairs found in chart reply")
	}
	return chart, nil
}

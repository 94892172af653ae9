package dispatcher

import (
	"bytes"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/mudler/LocalExplorer/pkg/xstrings"
)

func templateBase(templateName, templatetext string) *template.Template {
	funcs := sprig.FuncMap()
	funcs["clip"] = func(n int, s string) string { return xstrings.Clip(s, n) }
	return template.Must(template.New(templateName).Funcs(funcs).Parse(templatetext))
}

func templateExecute(t *template.Template, data any) (string, error) {
	prompt := bytes.NewBuffer([]byte{})
	if err := t.Execute(prompt, data); err != nil {
		return "", err
	}
	return prompt.String(), nil
}

// clusterSummary is how a cluster is presented to the reasoning service.
type clusterSummary struct {
	State     string   `json:"State"`
	Overview  string   `json:"Overview"`
	Functions []string `json:"Function List"`
}

type overviewData struct {
	Start       string
	Description string
	Limit       int
	Ranked      bool
	Current     int
	Others      []clusterSummary
}

type guideData struct {
	Start    string
	Clusters []clusterSummary
	Tested   []string
}

type testData struct {
	Start       string
	Description string
	Function    string
	Executed    []string
}

type numberedWidget struct {
	ID   int
	Line string
}

type reanalysisData struct {
	Start   string
	Cluster clusterSummary
	Widgets []numberedWidget
}

var overviewTemplate = templateBase("overview", `{{.Start}}
I will show you the description of a page of the app in HTML. Each control is written on its own line with an "id=N" attribute.
A function is a feature of the app a user can exercise from this page, such as "search for a note" or "change the theme".

`+"```HTML Description"+`
{{clip .Limit .Description}}
`+"```"+`
{{- if .Ranked}}
Please summarize the page in one sentence and list the functions it offers.
Then compare the current page with five other pages that were explored before, and rank the five most valuable pages to test, the current one included.
Current: State{{.Current}}
Five other pages:
{{toPrettyJson .Others}}
Answer with a JSON object in this format:
{"Overview": "<one sentence>", "Function List": ["<function>", ...], "Top5": ["State<id>", ...]}
{{- else}}
Please summarize the page in one sentence and list the functions it offers, most important first.
Answer with a JSON object in this format:
{"Overview": "<one sentence>", "Function List": ["<function>", ...]}
{{- end}}
`)

var guideTemplate = templateBase("guide", `{{.Start}}
Below are the pages explored so far, each with an overview and the functions that have not been tested yet.

`+"```State Informations"+`
{{toPrettyJson .Clusters}}
`+"```"+`
These functions have already been tested: {{"{"}}{{join ", " .Tested}}{{"}"}}.
Choose the page and the function that is most worth testing next. Prefer functions that have not been tested.
Answer with a JSON object in this format:
{"Target State": "State<id>", "Target Function": "<function>"}
`)

var testTemplate = templateBase("test", `{{.Start}}
I am on the following page of the app. Each control is written on its own line with an "id=N" attribute.

`+"```Page Description"+`
{{.Description}}
`+"```"+`
The target function I want to test is : {{.Function}}
{{- if .Executed}}
I have already executed: [{{join ",\n" .Executed}}]
{{- end}}
Which control should I operate next to test the function? Action types: 0 click, 1 long click, 2 scroll top down, 3 scroll bottom up, 4 scroll left right, 5 scroll right left, 6 input text.
Answer with a JSON object in this format:
{"Element Id": <id>, "Action Type": <type>, "Input": "<text, only for input>"}
{{- if .Executed}}
If the function has been tested completely or cannot be tested on this page, answer {"Element Id": -1, "Action Type": -1}.
{{- end}}
`)

var reanalysisTemplate = templateBase("reanalysis", `{{.Start}}
A page of the app was analysed before, this is its overview and function list:
`+"```Overview and Function List"+`
{{toPrettyJson .Cluster}}
`+"```"+`
Since then, similar versions of the page showed the new controls below. Each control is numbered.
`+"```Controls in HTML Description"+`
{{- range .Widgets}}
[{{.ID}}] {{.Line}}
{{- end}}
`+"```"+`
Update the overview if needed and list the new functions these controls offer, with the numbers of the controls that expose each one.
Answer with a JSON object in this format:
{"Overview": "<one sentence>", "Functions": {"<function>": [<control number>, ...]}}
`)

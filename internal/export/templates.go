package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var boardTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t interface{}, layout string) string {
			switch v := t.(type) {
			case time.Time:
				return v.Format(layout)
			case *time.Time:
				if v != nil {
					return v.Format(layout)
				}
			}
			return ""
		},
		"join": strings.Join,
	}

	boardTemplate = template.Must(template.New("board").Funcs(funcMap).Parse(boardTemplateHTML))
}

// RenderBoardHTML renders the board template with provided data
func RenderBoardHTML(board Board) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, board); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const boardTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; margin: 2rem; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; margin-bottom: 0.25rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .column { margin: 1.5rem 0; page-break-inside: avoid; }
    .column h2 { font-size: 1.1em; background: #f0f0f0; padding: 0.5rem; margin-bottom: 0.5rem; }
    .wip { color: #888; font-weight: normal; font-size: 0.85em; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #eee; font-size: 0.9em; }
    th { color: #555; font-size: 0.8em; text-transform: uppercase; }
    .priority-URGENT { color: #c0392b; font-weight: bold; }
    .priority-HIGH { color: #d35400; }
    .empty { color: #999; font-style: italic; padding: 0.5rem; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}} ({{.ProjectKey}})</h1>
  <div class="meta">{{.TeamName}} | exported {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}</div>
  {{range .Columns}}
  <div class="column">
    <h2>{{.Name}} ({{len .Issues}}){{if .WIPLimit}} <span class="wip">WIP limit {{.WIPLimit}}</span>{{end}}</h2>
    {{if .Issues}}
    <table>
      <tr><th>#</th><th>Title</th><th>Type</th><th>Priority</th><th>Assignee</th><th>Labels</th><th>Due</th></tr>
      {{range .Issues}}
      <tr>
        <td>{{$.ProjectKey}}-{{.Number}}</td>
        <td>{{.Title}}</td>
        <td>{{.Type}}</td>
        <td class="priority-{{.Priority}}">{{.Priority}}</td>
        <td>{{.Assignee}}</td>
        <td>{{join .Labels ", "}}</td>
        <td>{{if .DueDate}}{{formatDate .DueDate "Jan 2, 2006"}}{{end}}</td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="empty">No issues</div>
    {{end}}
  </div>
  {{end}}
</body>
</html>`

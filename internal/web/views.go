package web

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/shelver/internal/core"
)

// batchStatusView renders the batch progress card. Non-terminal batches
// ask HTMX to poll again every two seconds.
func batchStatusView(r *core.BatchReport) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		id := templ.EscapeString(r.BatchID)
		poll := ""
		if !r.Status.Terminal() {
			poll = fmt.Sprintf(` hx-get="/api/batches/%s/view" hx-trigger="every 2s" hx-swap="outerHTML"`, id)
		}

		if _, err := fmt.Fprintf(w, `<div id="batch-%s" class="batch-status batch-status-%s"%s>`,
			id, templ.EscapeString(string(r.Status)), poll); err != nil {
			return err
		}

		title := r.Filename
		if title == "" {
			title = r.BatchID
		}
		fmt.Fprintf(w, `<h3>%s</h3>`, templ.EscapeString(title))
		fmt.Fprintf(w, `<progress max="100" value="%s">%s%%</progress>`,
			strconv.FormatFloat(r.Progress, 'f', 2, 64), strconv.FormatFloat(r.Progress, 'f', 2, 64))
		fmt.Fprintf(w, `<dl><dt>Status</dt><dd>%s</dd><dt>Total</dt><dd>%d</dd><dt>Successful</dt><dd>%d</dd><dt>Failed</dt><dd>%d</dd><dt>Pending</dt><dd>%d</dd></dl>`,
			templ.EscapeString(string(r.Status)), r.Total, r.Successful, r.Failed, r.Pending+r.Processing)

		if len(r.ErrorLog) > 0 {
			io.WriteString(w, `<table class="batch-errors"><thead><tr><th>Row</th><th>Identifier</th><th>Error</th></tr></thead><tbody>`)
			for _, e := range r.ErrorLog {
				fmt.Fprintf(w, `<tr><td>%d</td><td>%s</td><td>%s</td></tr>`,
					e.Row, templ.EscapeString(e.Identifier), templ.EscapeString(e.Error))
			}
			io.WriteString(w, `</tbody></table>`)
		}

		_, err := io.WriteString(w, `</div>`)
		return err
	})
}

// errorAlert renders a user-facing error as an alert fragment.
func errorAlert(msg core.UserMessage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<div class="alert alert-error" role="alert"><p>%s</p>`, templ.EscapeString(msg.Message))
		if err != nil {
			return err
		}
		if msg.Action != "" {
			fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(msg.Action))
		}
		_, err = fmt.Fprintf(w, `<small>Code: %s</small></div>`, templ.EscapeString(msg.Code))
		return err
	})
}

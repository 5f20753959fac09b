package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	cmp "maragu.dev/gomponents"
	hx "maragu.dev/gomponents-htmx"
	g "maragu.dev/gomponents/html"

	"github.com/nfrund/sharedhub/internal/activity"
	"github.com/nfrund/sharedhub/internal/hub"
)

const htmxSrc = "https://unpkg.com/htmx.org@2.0.4"

func (s *Server) handleStatusPage(c echo.Context) error {
	return render(c, statusPage(s.statusContent(c.Request().Context())))
}

func (s *Server) handleStatusFragment(c echo.Context) error {
	return render(c, s.statusContent(c.Request().Context()))
}

func (s *Server) statusContent(ctx context.Context) cmp.Node {
	st, err := s.hub.State(ctx)
	return statusFragment(st, err, s.stats.Stats())
}

func render(c echo.Context, node cmp.Node) error {
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return node.Render(c.Response())
}

// statusPage wraps the fragment in a document that refreshes it every two seconds.
func statusPage(content cmp.Node) cmp.Node {
	return g.Doctype(
		g.HTML(
			g.Lang("en"),
			g.Head(
				g.Meta(g.Charset("utf-8")),
				g.TitleEl(cmp.Text("Shared hub status")),
				g.Script(g.Src(htmxSrc)),
			),
			g.Body(
				g.H1(cmp.Text("Shared hub")),
				g.Div(
					g.ID("status"),
					hx.Get("/status/fragment"),
					hx.Trigger("every 2s"),
					hx.Swap("innerHTML"),
					content,
				),
			),
		),
	)
}

func statusFragment(st hub.State, stateErr error, stats activity.Stats) cmp.Node {
	return cmp.Group{
		cmp.If(stateErr != nil, g.P(g.Class("error"), cmp.Text("Hub is not running"))),
		cmp.If(stateErr == nil, g.Section(
			g.H2(cmp.Text("State")),
			g.P(cmp.Text("Theme: "), g.Strong(cmp.Text(string(st.Theme)))),
			g.P(cmp.Textf("%d connection(s)", len(st.Connections))),
			g.Ul(cmp.Map(st.Connections, func(id string) cmp.Node {
				return g.Li(g.Code(cmp.Text(id)))
			})),
		)),
		g.Section(
			g.H2(cmp.Text("Activity")),
			g.Table(
				counterRow("Opened", stats.Opened),
				counterRow("Closed", stats.Closed),
				counterRow("Explicit closes", stats.ExplicitCloses),
				counterRow("Channel errors", stats.ChannelErrors),
				counterRow("Theme toggles", stats.ThemeToggles),
				counterRow("Chats relayed", stats.ChatsRelayed),
				counterRow("Chat deliveries", stats.ChatDeliveries),
			),
		),
		g.Section(
			g.H2(cmp.Text("Recent events")),
			g.Ol(cmp.Map(stats.Recent, func(ev activity.Event) cmp.Node {
				return g.Li(
					g.Code(cmp.Text(ev.ReceivedAt.Format("15:04:05.000"))), cmp.Text(" "),
					cmp.Text(ev.Topic),
					cmp.If(ev.Connection != "", cmp.Text(" "+ev.Connection)),
				)
			})),
		),
	}
}

func counterRow(label string, n int64) cmp.Node {
	return g.Tr(g.Th(cmp.Text(label)), g.Td(cmp.Text(strconv.FormatInt(n, 10))))
}

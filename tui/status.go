package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/anonvpn/vpn"
)

// StatusView is everything the status panel shows.
type StatusView struct {
	Tunnel      vpn.TunnelStatus
	Server      string
	NextRefresh time.Time
	Now         time.Time
}

// RenderStatus formats the connection status panel.
func RenderStatus(v StatusView) string {
	if v.Now.IsZero() {
		v.Now = time.Now()
	}
	st := v.Tunnel

	state := valueStyle.Render(st.Status.String())
	switch st.Status {
	case vpn.StatusConnected:
		state = okStyle.Render(st.Status.String())
	case vpn.StatusError:
		state = errorStyle.Render(st.Status.String())
	}

	rows := [][2]string{
		{"Status", state},
		{"Interface", st.Interface},
	}
	if v.Server != "" {
		rows = append(rows, [2]string{"Server", v.Server})
	}
	if st.Endpoint != "" {
		rows = append(rows, [2]string{"Endpoint", st.Endpoint})
	}
	if st.Status == vpn.StatusConnected {
		if !st.LastHandshake.IsZero() {
			rows = append(rows, [2]string{"Last handshake", formatAgo(v.Now.Sub(st.LastHandshake))})
		}
		rows = append(rows,
			[2]string{"Transfer", fmt.Sprintf("%s sent, %s received", formatBytes(st.BytesSent), formatBytes(st.BytesRecv))})
		if !st.StartTime.IsZero() {
			rows = append(rows, [2]string{"Uptime", formatDuration(v.Now.Sub(st.StartTime))})
		}
	}
	if !v.NextRefresh.IsZero() {
		rows = append(rows, [2]string{"Next refresh", fmt.Sprintf("%s (in %s)",
			v.NextRefresh.Format(time.TimeOnly), formatDuration(v.NextRefresh.Sub(v.Now)))})
	}
	if st.LastError != "" {
		rows = append(rows, [2]string{"Last error", errorStyle.Render(st.LastError)})
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r[0]), valueStyle.Render(r[1])))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func formatAgo(d time.Duration) string {
	if d < time.Second {
		return "just now"
	}
	return formatDuration(d) + " ago"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	s := (d - m*time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

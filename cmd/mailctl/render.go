package main

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/matheus3301/mailctl/internal/store"
	qrcode "github.com/skip2/go-qrcode"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = cellStyle.Foreground(lipgloss.Color("8"))
	labelStyle  = cellStyle.Bold(true)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

const maxSubjectWidth = 60

func messageTable(msgs []store.Message, withIDs bool) string {
	headers := []string{"From", "Subject", "Date", "Read", "Attachments"}
	if withIDs {
		headers = append([]string{"ID"}, headers...)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case withIDs && col == 0:
				return dimStyle
			default:
				return cellStyle
			}
		})

	for _, m := range msgs {
		row := []string{
			senderLabel(m),
			truncate(subjectLabel(m.Subject), maxSubjectWidth),
			m.ReceivedAt.Local().Format("2006-01-02 15:04"),
			yesNo(m.IsRead),
			yesNo(m.HasAttachments),
		}
		if withIDs {
			row = append([]string{m.RemoteID}, row...)
		}
		t.Row(row...)
	}
	return t.String()
}

// kv is one line of a label/value panel.
type kv struct {
	label, value string
}

func panel(title string, lines []kv) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(_, col int) lipgloss.Style {
			if col == 0 {
				return labelStyle
			}
			return cellStyle
		})
	for _, l := range lines {
		t.Row(l.label, l.value)
	}
	return headerStyle.Render(title) + "\n" + t.String()
}

func senderLabel(m store.Message) string {
	switch {
	case m.SenderName != "":
		return m.SenderName
	case m.SenderAddress != "":
		return m.SenderAddress
	default:
		return "unknown"
	}
}

func subjectLabel(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no subject)"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// renderQR draws content as a terminal QR code. Each output line encodes two
// bitmap rows using half-block characters.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}

	bitmap := qr.Bitmap()
	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}

// relative renders t against now, e.g. "42 minutes from now" or "3 hours ago".
func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

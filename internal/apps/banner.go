package apps

import (
	"context"
	"strings"

	"tn3270kit/internal/assets"
	"tn3270kit/internal/tn3270"
)

const BannerName = "banner"

// Banner shows a static welcome screen and hands the terminal to Next once
// the operator presses any key. That key press is drained, not passed on.
// Without Lines the embedded banner template is shown.
type Banner struct {
	Next  string
	Lines []string
}

// BannerData is the value the banner template is executed against.
type BannerData struct {
	Title      string
	TerminalID string
	SystemName string
	Rows       int
	Cols       int
}

func (b *Banner) lines(t *Terminal) ([]string, error) {
	if len(b.Lines) > 0 {
		return b.Lines, nil
	}
	out, err := assets.Render("banner.txt", BannerData{
		Title:      "tn3270kit test target",
		TerminalID: t.LU.TerminalID,
		SystemName: t.LU.SystemName,
		Rows:       t.Screen.Rows(),
		Cols:       t.Screen.Cols(),
	})
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(string(out), "\n"), "\n"), nil
}

func (b *Banner) Name() string {
	return BannerName
}

func (b *Banner) Ready(ctx context.Context, t *Terminal) error {
	lines, err := b.lines(t)
	if err != nil {
		return err
	}

	s := t.Stream()
	rows, cols := t.Screen.Rows(), t.Screen.Cols()
	top := (rows - len(lines)) / 2
	if top < 0 {
		top = 0
	}
	for i, line := range lines {
		if line == "" || top+i >= rows {
			continue
		}
		line = clip(line, cols-1)
		col := (cols - len(line)) / 2
		if col < 1 {
			col = 1
		}
		s.SetAddress(top+i, col-1).StartField(tn3270.AttrProtected).Text(line)
	}
	s.InsertCursor()

	if err := t.Screen.Send(s.Bytes()); err != nil {
		return err
	}
	if b.Next == "" {
		return nil
	}
	return t.SwitchTo(ctx, b.Next, true)
}

// Process is only reached when no Next app is configured.
func (b *Banner) Process(ctx context.Context, t *Terminal, data []byte) error {
	return b.Ready(ctx, t)
}

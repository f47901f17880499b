package apps

import (
	"context"
	"fmt"
	"strings"

	"tn3270kit/internal/tn3270"
)

const EchoName = "echo"

// Row and column of the echo input field's attribute byte.
const (
	echoInputRow = 2
	echoInputCol = 12
)

// Echo shows whatever the operator types back on the screen. PF3 switches to
// Exit when it is set.
type Echo struct {
	Exit string
}

func (e *Echo) Name() string {
	return EchoName
}

func (e *Echo) Ready(ctx context.Context, t *Terminal) error {
	return e.draw(t, "", "")
}

func (e *Echo) Process(ctx context.Context, t *Terminal, data []byte) error {
	in, err := tn3270.ParseInbound(data)
	if err != nil {
		return e.draw(t, "", "Unreadable input: "+err.Error())
	}

	switch in.AID {
	case tn3270.AIDClear:
		return e.draw(t, "", "")
	case tn3270.AIDPF3:
		if e.Exit != "" {
			return t.SwitchTo(ctx, e.Exit, false)
		}
	case tn3270.AIDEnter:
		var texts []string
		for _, f := range in.Fields {
			texts = append(texts, strings.TrimRight(f.Text, " \x00"))
		}
		text := strings.Join(texts, " ")
		return e.draw(t, text, fmt.Sprintf("Cursor at %d, %d field(s) modified", in.Cursor, len(in.Fields)))
	}
	return e.draw(t, "", fmt.Sprintf("Key %02X ignored", in.AID))
}

func (e *Echo) draw(t *Terminal, echoed, status string) error {
	cols := t.Screen.Cols()
	s := t.Stream().
		SetAddress(0, 0).
		StartField(tn3270.AttrProtected|tn3270.AttrIntensified).
		Text("ECHO  " + t.LU.TerminalID).
		SetAddress(echoInputRow, 0).
		StartField(tn3270.AttrProtected).
		Text("Type text:").
		SetAddress(echoInputRow, echoInputCol).
		StartField(0).
		InsertCursor().
		SetAddress(echoInputRow, cols-1).
		StartField(tn3270.AttrProtected)

	if echoed != "" {
		s.SetAddress(4, 0).StartField(tn3270.AttrProtected).Text("You typed: " + clip(echoed, cols-12))
	}
	if status != "" {
		s.SetAddress(t.Screen.Rows()-1, 0).StartField(tn3270.AttrProtected).Text(clip(status, cols-2))
	}
	return t.Screen.Send(s.Bytes())
}

func clip(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

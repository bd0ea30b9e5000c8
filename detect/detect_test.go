package detect_test

import (
	"context"
	"testing"

	"github.com/hazyhaar/unclip/detect"
	"github.com/hazyhaar/unclip/dom"
)

type recorder struct{ got []detect.Candidate }

func (r *recorder) Expand(_ context.Context, c detect.Candidate, attempt int) {
	if attempt != 0 {
		panic("scan must start at attempt 0")
	}
	r.got = append(r.got, c)
}

func scan(t *testing.T, src string) (detect.Report, *recorder) {
	t.Helper()
	doc, err := dom.ParseString("https://mail.google.com/mail/u/0/#inbox", src)
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	rep, err := detect.New(doc, rec).Scan(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return rep, rec
}

func TestScan_OneAttemptPerControl(t *testing.T) {
	// The article and its a3s body both match as containers and share the
	// same link: one hand-off.
	rep, rec := scan(t, `<body><div role="main">
		<div role="article" data-message-id="m1">
			<div class="a3s">Hello [Message clipped]
				<a href="https://mail.google.com/mail/?ui=2&view=lg&msg=m1">View entire message</a>
			</div>
		</div>
		<div role="article" data-message-id="m2"><div class="a3s">short and whole</div></div>
	</div></body>`)

	if len(rec.got) != 1 {
		t.Fatalf("hand-offs = %d, want 1", len(rec.got))
	}
	if id, _ := rec.got[0].Container.Attr("data-message-id"); id != "m1" {
		t.Errorf("container = %q, want the outer article", id)
	}
	if rec.got[0].Control.Tag() != "a" {
		t.Errorf("control tag = %q", rec.got[0].Control.Tag())
	}
	want := detect.Report{Containers: 4, Clipped: 2, Enqueued: 1}
	if rep != want {
		t.Errorf("report = %+v, want %+v", rep, want)
	}
}

func TestScan_ControlCascadeOrder(t *testing.T) {
	_, rec := scan(t, `<body><div role="main">
		<div role="article">Show trimmed content
			<button aria-label="Show trimmed content">...</button>
			<div class="iX"><a target="_blank" href="/other">open</a></div>
		</div>
	</div></body>`)
	if len(rec.got) != 1 {
		t.Fatalf("hand-offs = %d", len(rec.got))
	}
	// div.iX a[target=_blank] ranks above the trimmed button.
	if rec.got[0].Control.Tag() != "a" {
		t.Errorf("control = %q, want the div.iX link", rec.got[0].Control.Tag())
	}
}

func TestScan_MissingControlIsSkipped(t *testing.T) {
	rep, rec := scan(t, `<body><div role="main">
		<div role="article">[Message clipped] but nothing to click</div>
	</div></body>`)
	if len(rec.got) != 0 {
		t.Errorf("hand-offs = %d, want 0", len(rec.got))
	}
	if rep.MissingControl != 1 || rep.Clipped != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestScan_FallsBackToBody(t *testing.T) {
	_, rec := scan(t, `<body>
		<div data-message-id="x">View entire message <a href="?view=lg">more</a></div>
	</body>`)
	if len(rec.got) != 1 {
		t.Errorf("hand-offs = %d, want 1 with no role=main", len(rec.got))
	}
}

func TestScan_CustomSelectors(t *testing.T) {
	doc, _ := dom.ParseString("", `<body><section class="msg">TRUNCATED <a class="more" href="/x">x</a></section></body>`)
	rec := &recorder{}
	e := detect.New(doc, rec, detect.WithSelectors(detect.Selectors{
		Containers: []string{"section.msg"},
		Phrases:    []string{"TRUNCATED"},
		Controls:   []string{"a.more"},
	}))
	if _, err := e.Scan(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.got) != 1 {
		t.Errorf("hand-offs = %d", len(rec.got))
	}
	if len(e.Selectors().Roots) == 0 {
		t.Error("empty roots not defaulted")
	}
}

func TestIsClipped(t *testing.T) {
	doc, _ := dom.ParseString("", `<body><p id="a">[Message clipped]</p><p id="b">fine</p></body>`)
	a, _ := dom.First(doc, "#a")
	b, _ := dom.First(doc, "#b")
	phrases := detect.DefaultSelectors().Phrases
	if !detect.IsClipped(a, phrases) || detect.IsClipped(b, phrases) {
		t.Error("IsClipped misclassified")
	}
}

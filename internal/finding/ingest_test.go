package finding

import (
	"errors"
	"strings"
	"testing"
)

const sampleCSV = `language,rule_id,severity,message,file,start_line,end_line,path
java,sql-injection,error,"user input flows to query",src/main/App.java,40,42,"[{""file"":""src/main/App.java"",""line"":12,""snippet"":""String q = req.getParameter(\""q\"")""},{""file"":""src/main/App.java"",""line"":41,""snippet"":""stmt.execute(q)""}]"
go,command-injection,warning,tainted argument reaches exec,cmd/run.go,88,88,
`

func TestRead_Basic(t *testing.T) {
	t.Parallel()

	res, err := Read(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("len(Findings) = %d, want 2", len(res.Findings))
	}
	if res.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", res.Skipped)
	}

	f := res.Findings[0]
	if f.ID != 0 {
		t.Errorf("ID = %d, want 0", f.ID)
	}
	if f.Language != "java" {
		t.Errorf("Language = %q, want %q", f.Language, "java")
	}
	if f.RuleID != "sql-injection" {
		t.Errorf("RuleID = %q, want %q", f.RuleID, "sql-injection")
	}
	if f.Severity != SeverityError {
		t.Errorf("Severity = %q, want %q", f.Severity, SeverityError)
	}
	if len(f.Path) != 2 {
		t.Fatalf("len(Path) = %d, want 2", len(f.Path))
	}
	if f.Source().Line != 12 {
		t.Errorf("Source().Line = %d, want 12", f.Source().Line)
	}
	if f.Sink().Line != 41 {
		t.Errorf("Sink().Line = %d, want 41", f.Sink().Line)
	}

	g := res.Findings[1]
	if g.ID != 1 {
		t.Errorf("ID = %d, want 1", g.ID)
	}
	if len(g.Path) != 0 {
		t.Errorf("len(Path) = %d, want 0", len(g.Path))
	}
	// no path: finding location is both source and sink
	if g.Source().Line != 88 || g.Sink().Line != 88 {
		t.Errorf("Source/Sink = %d/%d, want 88/88", g.Source().Line, g.Sink().Line)
	}
}

func TestRead_NoHeader(t *testing.T) {
	t.Parallel()

	res, err := Read(strings.NewReader(`go,path-traversal,note,msg,main.go,3,5,`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("len(Findings) = %d, want 1", len(res.Findings))
	}
}

func TestRead_MalformedRowsSkippedAndCounted(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`java,sql-injection,error,ok,src/A.java,10,12,`,
		`java,,error,empty rule,src/B.java,10,12,`,
		`java,sql-injection,error,bad line,src/C.java,0,12,`,
		`java,sql-injection,error,reversed,src/D.java,20,10,`,
		`java,sql-injection,error,bad path,src/E.java,10,12,"not json"`,
		`java,sql-injection`,
		`java,sql-injection,error,ok again,src/F.java,1,1,`,
	}, "\n")

	res, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("len(Findings) = %d, want 2", len(res.Findings))
	}
	if res.Skipped != 5 {
		t.Errorf("Skipped = %d, want 5", res.Skipped)
	}
	if len(res.Errors) != res.Skipped {
		t.Errorf("len(Errors) = %d, want %d", len(res.Errors), res.Skipped)
	}
	var mre *MalformedRecordError
	if !errors.As(res.Errors[0], &mre) {
		t.Fatalf("Errors[0] = %T, want *MalformedRecordError", res.Errors[0])
	}
	// order of survivors is preserved and IDs are dense
	if res.Findings[0].File != "src/A.java" || res.Findings[1].File != "src/F.java" {
		t.Errorf("surviving files = %q, %q", res.Findings[0].File, res.Findings[1].File)
	}
	if res.Findings[1].ID != 1 {
		t.Errorf("second finding ID = %d, want 1", res.Findings[1].ID)
	}
}

func TestNormalizeSeverity(t *testing.T) {
	t.Parallel()

	cases := map[string]Severity{
		"error":    SeverityError,
		"HIGH":     SeverityError,
		"warning":  SeverityWarning,
		"medium":   SeverityWarning,
		"note":     SeverityNote,
		"whatever": SeverityNote,
	}
	for in, want := range cases {
		if got := normalizeSeverity(in); got != want {
			t.Errorf("normalizeSeverity(%q) = %q, want %q", in, got, want)
		}
	}
}

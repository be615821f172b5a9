package frame

import "testing"

func TestTagCaseInsensitiveFirstOccurrence(t *testing.T) {
	f := New("<enterevent><Call>W1AW</Call><BAND> 20 </BAND><CALL>K1ABC</CALL></enterevent>")
	call, ok := f.Tag("CALL")
	if !ok || call != "W1AW" {
		t.Fatalf("Tag(CALL)=%q,%v want W1AW,true", call, ok)
	}
	band, ok := f.Tag("band")
	if !ok || band != "20" {
		t.Fatalf("Tag(band)=%q,%v want 20,true", band, ok)
	}
	if _, ok := f.Tag("MODE"); ok {
		t.Fatalf("expected MODE to be absent")
	}
}

func TestTagRequiresClosingTag(t *testing.T) {
	f := New("<CALL>W1AW")
	if v, ok := f.Tag("CALL"); ok {
		t.Fatalf("expected unterminated tag to be missing, got %q", v)
	}
}

func TestFirstOfSkipsMissingAndEmpty(t *testing.T) {
	f := New("<LON></LON><LONG>72.7</LONG>")
	if got := f.FirstOf("LON", "LONG"); got != "72.7" {
		t.Fatalf("FirstOf=%q want 72.7", got)
	}
	if got := f.FirstOf("LAT", "LATITUDE"); got != "" {
		t.Fatalf("FirstOf missing=%q want empty", got)
	}
}

func TestNormalizeCollapsesWhitespaceInsideTags(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "padded", raw: "< CALL >W1AW</ CALL >"},
		{name: "split_name", raw: "<CA LL>W1AW</CA\r\nLL>"},
		{name: "tabs", raw: "<\tCALL>W1AW<\t/CALL>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.raw)
			if got, ok := f.Tag("CALL"); !ok || got != "W1AW" {
				t.Fatalf("Tag(CALL)=%q,%v from %q (normalized %q)", got, ok, tt.raw, f.Text())
			}
		})
	}
}

func TestNormalizeLeavesValueWhitespace(t *testing.T) {
	f := New("<MESSAGE>QRV on 40 m</MESSAGE>")
	if got, _ := f.Tag("MESSAGE"); got != "QRV on 40 m" {
		t.Fatalf("message=%q", got)
	}
}

func TestHas(t *testing.T) {
	f := New("<COUNTRYLISTLOOKUPRESPONSE><CALL>DL1ABC</CALL>")
	if !f.Has("countrylistlookupresponse") {
		t.Fatalf("expected Has to match case-insensitively")
	}
	if f.Has("LISTRESPONSE") {
		t.Fatalf("Has must match whole tag names only")
	}
}

func TestSplitRecords(t *testing.T) {
	f := New("<LISTRESPONSE><RECORD><fldPrimaryKey>1</fldPrimaryKey><fldCall>W1AW</fldCall></RECORD>" +
		"<RECORD><fldPrimaryKey>2</fldPrimaryKey><fldCall>K1ABC</fldCall></RECORD></LISTRESPONSE>")
	entries := f.Split("RECORD")
	if len(entries) != 2 {
		t.Fatalf("entries=%d want 2", len(entries))
	}
	if got := entries[1].FirstOf("CALL", "FLDCALL"); got != "K1ABC" {
		t.Fatalf("second entry call=%q", got)
	}
}

func TestSplitWithoutCloseMarkers(t *testing.T) {
	f := New("<RECORD><fldCall>W1AW</fldCall><RECORD><fldCall>N1XYZ</fldCall>")
	entries := f.Split("record")
	if len(entries) != 2 {
		t.Fatalf("entries=%d want 2", len(entries))
	}
	if got, _ := entries[0].Tag("FLDCALL"); got != "W1AW" {
		t.Fatalf("first call=%q", got)
	}
}

func TestTagOffsetsSurviveUTF8(t *testing.T) {
	f := New("<NAME>São Tomé</NAME><CALL>S92AA</CALL>")
	if got, _ := f.Tag("NAME"); got != "São Tomé" {
		t.Fatalf("name=%q", got)
	}
	if got, _ := f.Tag("CALL"); got != "S92AA" {
		t.Fatalf("call=%q", got)
	}
}

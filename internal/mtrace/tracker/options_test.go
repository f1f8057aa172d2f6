package tracker

import "testing"

func TestParseOptions_EmptyYieldsDefaults(t *testing.T) {
	opts := ParseOptions("")

	if !opts.Stacks || opts.Sample != 1 {
		t.Errorf("Expected stack capture on with sample 1, got %+v", opts)
	}
	if opts.Output != "" || opts.Backend != "" {
		t.Errorf("Expected empty targets, got %+v", opts)
	}
	if opts.HistorySize != 0 || opts.MaxLive != 0 {
		t.Errorf("Expected unset limits, got %+v", opts)
	}
}

func TestParseOptions_AllKeys(t *testing.T) {
	opts := ParseOptions("output=trace.ndjson backend=arena stacks=0 sample=10 history=64 max_live=1000")

	if opts.Output != "trace.ndjson" {
		t.Errorf("Expected output trace.ndjson, got %q", opts.Output)
	}
	if opts.Backend != "arena" {
		t.Errorf("Expected backend arena, got %q", opts.Backend)
	}
	if opts.Stacks {
		t.Error("Expected stack capture off")
	}
	if opts.Sample != 10 || opts.HistorySize != 64 || opts.MaxLive != 1000 {
		t.Errorf("Expected sample 10, history 64, max_live 1000, got %+v", opts)
	}
}

func TestParseOptions_MalformedPairsSkipped(t *testing.T) {
	opts := ParseOptions("bogus sample=abc stacks=maybe max_live=-5 nosuchkey=1 output=ok")

	if opts.Output != "ok" {
		t.Errorf("Expected the valid pair to apply, got %q", opts.Output)
	}
	if opts.Sample != 1 {
		t.Errorf("Expected sample to keep its default, got %d", opts.Sample)
	}
	if !opts.Stacks {
		t.Error("Expected stacks to keep its default")
	}
	if opts.MaxLive != 0 {
		t.Errorf("Expected max_live to keep its default, got %d", opts.MaxLive)
	}
}

func TestFromEnv_ReadsVariable(t *testing.T) {
	t.Setenv(EnvVar, "sample=3 backend=goheap")

	opts := FromEnv()
	if opts.Sample != 3 || opts.Backend != "goheap" {
		t.Errorf("Expected sample 3 and backend goheap, got %+v", opts)
	}
}

package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestCalculator_Evaluates(t *testing.T) {
	tool := NewCalculatorTool()

	cases := []struct {
		expr string
		want string
	}{
		{"2 + 3 * 4", "14"},
		{"(10 - 4) / 3", "2"},
		{"2 ** 10", "1024"},
	}
	for _, tc := range cases {
		result := tool.Execute(context.Background(), map[string]interface{}{"expression": tc.expr})
		if result.IsError {
			t.Fatalf("%s: unexpected error %s", tc.expr, result.ForLLM)
		}
		if result.ForLLM != tc.want {
			t.Fatalf("%s = %q, want %q", tc.expr, result.ForLLM, tc.want)
		}
	}
}

func TestCalculator_InvalidExpression(t *testing.T) {
	tool := NewCalculatorTool()
	result := tool.Execute(context.Background(), map[string]interface{}{"expression": "2 +* 3"})
	if !result.IsError {
		t.Fatal("expected error for invalid expression")
	}
}

type fakeGenerator struct {
	url string
	err error
}

func (g *fakeGenerator) GenerateImage(context.Context, string) (string, error) {
	return g.url, g.err
}

func TestImageTool_DirectResult(t *testing.T) {
	tool := NewImageTool(&fakeGenerator{url: "https://img.example.com/cat.png"})

	result := tool.Execute(context.Background(), map[string]interface{}{"prompt": "a cat"})
	if result.IsError {
		t.Fatalf("unexpected error %s", result.ForLLM)
	}
	if !result.Direct {
		t.Fatal("image result should be direct")
	}
	if result.ForUser != "https://img.example.com/cat.png" {
		t.Fatalf("unexpected url %q", result.ForUser)
	}
}

func TestImageTool_GeneratorFailure(t *testing.T) {
	tool := NewImageTool(&fakeGenerator{err: fmt.Errorf("quota exhausted")})
	result := tool.Execute(context.Background(), map[string]interface{}{"prompt": "a cat"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestWebSearchTool_NilWithoutProviders(t *testing.T) {
	if tool := NewWebSearchTool(WebSearchToolOptions{}); tool != nil {
		t.Fatal("expected nil tool with no providers configured")
	}
}

func TestDuckDuckGo_ExtractResults(t *testing.T) {
	p := &DuckDuckGoSearchProvider{}
	html := `<div class="result">
		<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com%2Fdocs&amp;rut=x">Example <b>Docs</b></a>
		<a class="result__snippet" href="#">Documentation for the example project.</a>
	</div>`

	out, err := p.extractResults(html, 5, "example docs")
	if err != nil {
		t.Fatalf("extractResults failed: %v", err)
	}
	if !strings.Contains(out, "Example Docs") {
		t.Fatalf("title missing or tags not stripped: %q", out)
	}
	if !strings.Contains(out, "https://example.com/docs") {
		t.Fatalf("redirect URL not unwrapped: %q", out)
	}
	if !strings.Contains(out, "Documentation for the example project.") {
		t.Fatalf("snippet missing: %q", out)
	}
}

type scriptedSearch struct {
	result string
	err    error
	calls  int
}

func (s *scriptedSearch) Search(context.Context, string, int) (string, error) {
	s.calls++
	return s.result, s.err
}

func TestFallbackSearch_UsesSecondaryOnError(t *testing.T) {
	primary := &scriptedSearch{err: fmt.Errorf("quota exceeded")}
	secondary := &scriptedSearch{result: "fallback results"}
	p := &fallbackSearchProvider{primary: primary, secondary: secondary}

	out, err := p.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("expected fallback to succeed: %v", err)
	}
	if out != "fallback results" {
		t.Fatalf("unexpected output %q", out)
	}
	if primary.calls != 1 || secondary.calls != 1 {
		t.Fatalf("unexpected call counts primary=%d secondary=%d", primary.calls, secondary.calls)
	}
}

package htmlstream

import (
	"testing"

	"golang.org/x/net/html"
)

func TestTreeBuilder(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"void elements", `<img src="a.png"><br><input type="text">`, []string{`<img src="a.png"/>`, `<br/>`, `<input type="text"/>`}},
		{"implied p end", `<p>a<p>b<div>c</div>`, []string{`<p>a</p>`, `<p>b</p>`, `<div>c</div>`}},
		{"implied li end", `<ul><li>a<li>b</ul>`, []string{`<ul><li>a</li><li>b</li></ul>`}},
		{"implied option end", `<select><option>a<option>b</select>`, []string{`<select><option>a</option><option>b</option></select>`}},
		{"unmatched end tag", `</span><b>x</b>`, []string{`<b>x</b>`}},
		{"end tag closes open children", `<div><span>a</div>b`, []string{`<div><span>a</span></div>`, `b`}},
		{"script is raw text", `<script>if (a < b) { f("</div>") }</script><i>n</i>`, []string{`<script>if (a < b) { f("</div>") }</script>`, `<i>n</i>`}},
		{"style is raw text", `<style>p > a { color: red }</style>`, []string{`<style>p > a { color: red }</style>`}},
		{"comment and doctype", `<!DOCTYPE html><!--c--><p>x</p>`, []string{`<!--c-->`, `<p>x</p>`}},
		{"attributes kept in order", `<a href="/x" data-b="2" data-a="1">l</a>`, []string{`<a href="/x" data-b="2" data-a="1">l</a>`}},
		{"text merges across chunks", `abc`, []string{`abc`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := renderAll(t, runDetect(t, tc.in))
			if len(got) != len(tc.want) {
				t.Fatalf("got %q want %q", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("node %d: got %q want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTreeBuilder_ForeignContent(t *testing.T) {
	nodes := runDetect(t, `<svg viewBox="0 0 1 1"><circle r="1"/><foreignObject><div>x</div></foreignObject></svg><math><mi>x</mi></math>`)
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes", len(nodes))
	}
	svg := nodes[0]
	if svg.Namespace != "svg" {
		t.Fatalf("svg namespace=%q", svg.Namespace)
	}
	if svg.Attr[0].Key != "viewBox" {
		t.Fatalf("attribute name not adjusted: %q", svg.Attr[0].Key)
	}
	circle := svg.FirstChild
	if circle.Data != "circle" || circle.Namespace != "svg" || circle.FirstChild != nil {
		t.Fatalf("circle=%+v", circle)
	}
	fo := circle.NextSibling
	if fo == nil || fo.Data != "foreignObject" {
		t.Fatalf("self-closed circle swallowed its sibling")
	}
	if div := fo.FirstChild; div.Data != "div" || div.Namespace != "" {
		t.Fatalf("div inside foreignObject=%+v", div)
	}
	if mi := nodes[1].FirstChild; nodes[1].Namespace != "math" || mi.Namespace != "math" {
		t.Fatalf("math namespace not inherited")
	}
}

func TestTreeBuilder_SplitAcrossChunks(t *testing.T) {
	got := renderAll(t, runDetect(t, `<d`, `iv cl`, `ass="a">x`, `y</di`, `v>`, `t`, `ail`))
	want := []string{`<div class="a">xy</div>`, `tail`}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestTreeBuilder_NodesAreChildrenOfRoot(t *testing.T) {
	nodes := runDetect(t, `<p>a</p><p>b</p>`)
	for _, n := range nodes {
		if n.Parent == nil || n.Parent.Type != html.DocumentNode {
			t.Fatalf("node %q not under the parse root", n.Data)
		}
	}
}

package sandbox

import (
	"fmt"

	"github.com/wishub/skillhub/skill"
)

// languageSpec is everything the runner needs to know about one language:
// the base image, the code filename it writes the decoded blob to, and the
// command that boots it. Every bootstrap reads /workspace/inputs.json,
// calls the user code's execute(inputs) entrypoint, and prints the result
// as a single-line JSON document on stdout.
type languageSpec struct {
	Image    string
	CodeFile string
	Ext      string
	Command  []string
}

const workspaceDir = "/workspace"

// languageTable is keyed by skill.Language; entries correspond to the
// per-language entry points table in the sandbox's execution protocol.
//
// Every image is pulled once per host by ensureImage before the ephemeral,
// network-disabled container starts (the pull itself happens through the
// Docker daemon, outside the sandbox's own network-none boundary), so an
// image is free to bundle whatever toolchain its bootstrap needs. The
// TypeScript entry relies on that: it names a skillhub-maintained image
// that layers ts-node and typescript onto the stock node:20-slim base,
// since a no-network container can't `npm install` its transpiler at
// execution time.
var languageTable = map[skill.Language]languageSpec{
	skill.LanguagePython: {
		Image:    "python:3.12-slim",
		CodeFile: "skill.py",
		Ext:      "py",
		Command:  []string{"python", "-c", pythonBootstrap},
	},
	skill.LanguageTypeScript: {
		Image:    "registry.skillhub.internal/sandbox-typescript:20",
		CodeFile: "skill.ts",
		Ext:      "ts",
		Command:  []string{"node", "-r", "ts-node/register/transpile-only", "-e", nodeBootstrap},
	},
	skill.LanguageGo: {
		Image:    "golang:1.24-alpine",
		CodeFile: "skill.go",
		Ext:      "go",
		Command:  []string{"sh", "-c", goBootstrap},
	},
	skill.LanguageJava: {
		Image:    "eclipse-temurin:21-jdk-alpine",
		CodeFile: "Skill.java",
		Ext:      "java",
		Command:  []string{"sh", "-c", javaBootstrap},
	},
	skill.LanguageRust: {
		Image:    "rust:1.76-slim",
		CodeFile: "skill.rs",
		Ext:      "rs",
		Command:  []string{"sh", "-c", rustBootstrap},
	},
}

// resolveLanguage looks up the languageSpec for lang, or an error if the
// sandbox has no entry point for it.
func resolveLanguage(lang skill.Language) (languageSpec, error) {
	spec, ok := languageTable[lang]
	if !ok {
		return languageSpec{}, fmt.Errorf("unsupported language %q", lang)
	}
	return spec, nil
}

// Each bootstrap loads workspaceDir/inputs.json, imports the user's
// skill.<ext> module, calls its execute(inputs) entrypoint, and prints the
// JSON-encoded result as the single, final line on stdout so the runner can
// recover it even if user code printed other diagnostics first.

const pythonBootstrap = `
import json, sys
sys.path.insert(0, "` + workspaceDir + `")
import skill
with open("` + workspaceDir + `/inputs.json") as f:
    inputs = json.load(f)
outputs = skill.execute(inputs)
print(json.dumps(outputs))
`

const nodeBootstrap = `
const fs = require("fs");
const path = require("path");
const inputs = JSON.parse(fs.readFileSync("` + workspaceDir + `/inputs.json", "utf8"));
const mod = require(path.join("` + workspaceDir + `", "skill.ts"));
Promise.resolve(mod.execute(inputs)).then(outputs => {
  console.log(JSON.stringify(outputs));
});
`

// goBootstrap writes a small generated main alongside the staged skill.go,
// then builds and runs both together as one package. skill.go is expected
// to declare `package main` and a single func execute(map[string]any)
// map[string]any; it must not declare its own func main.
const goBootstrap = `cat > ` + workspaceDir + `/_runner.go <<'SKILLHUB_EOF'
package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	data, err := os.ReadFile("` + workspaceDir + `/inputs.json")
	if err != nil {
		fmt.Println("{}")
		os.Exit(1)
	}
	var inputs map[string]any
	if err := json.Unmarshal(data, &inputs); err != nil {
		fmt.Println("{}")
		os.Exit(1)
	}
	outputs := execute(inputs)
	encoded, err := json.Marshal(outputs)
	if err != nil {
		fmt.Println("{}")
		os.Exit(1)
	}
	fmt.Println(string(encoded))
}
SKILLHUB_EOF
cat > ` + workspaceDir + `/go.mod <<'SKILLHUB_EOF'
module skillhub_sandbox

go 1.24
SKILLHUB_EOF
cd ` + workspaceDir + ` && go run .`

// javaBootstrap writes a generated Runner class that reads inputs.json,
// calls the user-defined Skill.execute(Map<String,Object>), and prints the
// JSON-encoded result. Java has no JSON type in its standard library, so
// Runner carries a minimal hand-rolled encoder/decoder restricted to the
// null/bool/number/string/array/object shapes a skill's input/output schema
// can produce.
const javaBootstrap = `cat > ` + workspaceDir + `/Runner.java <<'SKILLHUB_EOF'
import java.nio.file.*;
import java.util.*;

public class Runner {
	public static void main(String[] args) throws Exception {
		String text = new String(Files.readAllBytes(Paths.get("` + workspaceDir + `/inputs.json")));
		Object inputs = MiniJSON.parse(text);
		@SuppressWarnings("unchecked")
		Map<String, Object> in = inputs instanceof Map ? (Map<String, Object>) inputs : new LinkedHashMap<>();
		Map<String, Object> out = Skill.execute(in);
		System.out.println(MiniJSON.stringify(out));
	}
}

class MiniJSON {
	private final String s;
	private int i;

	private MiniJSON(String s) { this.s = s; }

	static Object parse(String s) {
		MiniJSON p = new MiniJSON(s);
		p.skipWs();
		return p.parseValue();
	}

	private void skipWs() { while (i < s.length() && Character.isWhitespace(s.charAt(i))) i++; }

	private Object parseValue() {
		char c = s.charAt(i);
		if (c == '{') return parseObject();
		if (c == '[') return parseArray();
		if (c == '"') return parseString();
		if (c == 't') { i += 4; return Boolean.TRUE; }
		if (c == 'f') { i += 5; return Boolean.FALSE; }
		if (c == 'n') { i += 4; return null; }
		return parseNumber();
	}

	private Map<String, Object> parseObject() {
		Map<String, Object> m = new LinkedHashMap<>();
		i++; skipWs();
		if (s.charAt(i) == '}') { i++; return m; }
		while (true) {
			skipWs();
			String key = parseString();
			skipWs(); i++; skipWs(); // ':'
			m.put(key, parseValue());
			skipWs();
			if (s.charAt(i) == ',') { i++; continue; }
			i++; break;
		}
		return m;
	}

	private List<Object> parseArray() {
		List<Object> l = new ArrayList<>();
		i++; skipWs();
		if (s.charAt(i) == ']') { i++; return l; }
		while (true) {
			skipWs();
			l.add(parseValue());
			skipWs();
			if (s.charAt(i) == ',') { i++; continue; }
			i++; break;
		}
		return l;
	}

	private String parseString() {
		i++;
		StringBuilder b = new StringBuilder();
		while (s.charAt(i) != '"') {
			char c = s.charAt(i);
			if (c == '\\') {
				i++;
				char e = s.charAt(i);
				switch (e) {
					case 'n': b.append('\n'); break;
					case 't': b.append('\t'); break;
					case 'r': b.append('\r'); break;
					case '"': b.append('"'); break;
					case '\\': b.append('\\'); break;
					default: b.append(e);
				}
			} else {
				b.append(c);
			}
			i++;
		}
		i++;
		return b.toString();
	}

	private Object parseNumber() {
		int start = i;
		while (i < s.length() && (Character.isDigit(s.charAt(i)) || s.charAt(i) == '-' || s.charAt(i) == '+'
				|| s.charAt(i) == '.' || s.charAt(i) == 'e' || s.charAt(i) == 'E')) {
			i++;
		}
		return Double.parseDouble(s.substring(start, i));
	}

	@SuppressWarnings("unchecked")
	static String stringify(Object v) {
		StringBuilder b = new StringBuilder();
		write(v, b);
		return b.toString();
	}

	@SuppressWarnings("unchecked")
	private static void write(Object v, StringBuilder b) {
		if (v == null) {
			b.append("null");
		} else if (v instanceof Map) {
			b.append('{');
			boolean first = true;
			for (Map.Entry<String, Object> e : ((Map<String, Object>) v).entrySet()) {
				if (!first) b.append(',');
				first = false;
				writeString(e.getKey(), b);
				b.append(':');
				write(e.getValue(), b);
			}
			b.append('}');
		} else if (v instanceof List) {
			b.append('[');
			boolean first = true;
			for (Object e : (List<Object>) v) {
				if (!first) b.append(',');
				first = false;
				write(e, b);
			}
			b.append(']');
		} else if (v instanceof String) {
			writeString((String) v, b);
		} else if (v instanceof Boolean || v instanceof Number) {
			b.append(v.toString());
		} else {
			writeString(v.toString(), b);
		}
	}

	private static void writeString(String s, StringBuilder b) {
		b.append('"');
		for (int j = 0; j < s.length(); j++) {
			char c = s.charAt(j);
			switch (c) {
				case '"': b.append("\\\""); break;
				case '\\': b.append("\\\\"); break;
				case '\n': b.append("\\n"); break;
				case '\t': b.append("\\t"); break;
				case '\r': b.append("\\r"); break;
				default: b.append(c);
			}
		}
		b.append('"');
	}
}
SKILLHUB_EOF
cd ` + workspaceDir + ` && javac Skill.java Runner.java && java Runner`

// rustBootstrap writes a generated runner crate alongside skill.rs, builds
// both together, and runs the result. runner.rs is the crate root and
// declares skill.rs as a submodule via #[path]; skill.rs is expected to
// expose fn execute(inputs: &BTreeMap<String, crate::MiniJSON>) ->
// BTreeMap<String, crate::MiniJSON>, referencing the MiniJSON value type
// the runner defines at crate root. Rust's standard library has no JSON
// support, so runner.rs carries the same shape of minimal hand-rolled
// codec the Java bootstrap uses, restricted to the null/bool/number/
// string/array/object values a skill's input/output schema can produce.
const rustBootstrap = `cat > ` + workspaceDir + `/runner.rs <<'SKILLHUB_EOF'
use std::collections::BTreeMap;
use std::fs;

#[path = "skill.rs"]
mod skill;

#[derive(Clone, Debug)]
pub enum MiniJSON {
	Null,
	Bool(bool),
	Num(f64),
	Str(String),
	Arr(Vec<MiniJSON>),
	Obj(BTreeMap<String, MiniJSON>),
}

struct Parser<'a> {
	b: &'a [u8],
	i: usize,
}

impl<'a> Parser<'a> {
	fn skip_ws(&mut self) {
		while self.i < self.b.len() && (self.b[self.i] as char).is_whitespace() {
			self.i += 1;
		}
	}

	fn parse_value(&mut self) -> MiniJSON {
		self.skip_ws();
		match self.b[self.i] as char {
			'{' => self.parse_obj(),
			'[' => self.parse_arr(),
			'"' => MiniJSON::Str(self.parse_str()),
			't' => { self.i += 4; MiniJSON::Bool(true) }
			'f' => { self.i += 5; MiniJSON::Bool(false) }
			'n' => { self.i += 4; MiniJSON::Null }
			_ => self.parse_num(),
		}
	}

	fn parse_obj(&mut self) -> MiniJSON {
		let mut m = BTreeMap::new();
		self.i += 1;
		self.skip_ws();
		if self.b[self.i] as char == '}' {
			self.i += 1;
			return MiniJSON::Obj(m);
		}
		loop {
			self.skip_ws();
			let key = self.parse_str();
			self.skip_ws();
			self.i += 1; // ':'
			let val = self.parse_value();
			m.insert(key, val);
			self.skip_ws();
			if self.b[self.i] as char == ',' {
				self.i += 1;
				continue;
			}
			self.i += 1;
			break;
		}
		MiniJSON::Obj(m)
	}

	fn parse_arr(&mut self) -> MiniJSON {
		let mut v = Vec::new();
		self.i += 1;
		self.skip_ws();
		if self.b[self.i] as char == ']' {
			self.i += 1;
			return MiniJSON::Arr(v);
		}
		loop {
			self.skip_ws();
			v.push(self.parse_value());
			self.skip_ws();
			if self.b[self.i] as char == ',' {
				self.i += 1;
				continue;
			}
			self.i += 1;
			break;
		}
		MiniJSON::Arr(v)
	}

	fn parse_str(&mut self) -> String {
		self.i += 1;
		let mut out = String::new();
		while self.b[self.i] as char != '"' {
			let c = self.b[self.i] as char;
			if c == '\\' {
				self.i += 1;
				let e = self.b[self.i] as char;
				out.push(match e {
					'n' => '\n',
					't' => '\t',
					'r' => '\r',
					other => other,
				});
			} else {
				out.push(c);
			}
			self.i += 1;
		}
		self.i += 1;
		out
	}

	fn parse_num(&mut self) -> MiniJSON {
		let start = self.i;
		while self.i < self.b.len() {
			let c = self.b[self.i] as char;
			if c.is_ascii_digit() || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
				self.i += 1;
			} else {
				break;
			}
		}
		let text = std::str::from_utf8(&self.b[start..self.i]).unwrap();
		MiniJSON::Num(text.parse().unwrap_or(0.0))
	}
}

pub fn parse(text: &str) -> MiniJSON {
	let mut p = Parser { b: text.as_bytes(), i: 0 };
	p.parse_value()
}

pub fn stringify(v: &MiniJSON) -> String {
	let mut out = String::new();
	write_value(v, &mut out);
	out
}

fn write_value(v: &MiniJSON, out: &mut String) {
	match v {
		MiniJSON::Null => out.push_str("null"),
		MiniJSON::Bool(b) => out.push_str(if *b { "true" } else { "false" }),
		MiniJSON::Num(n) => out.push_str(&n.to_string()),
		MiniJSON::Str(s) => write_str(s, out),
		MiniJSON::Arr(items) => {
			out.push('[');
			for (idx, item) in items.iter().enumerate() {
				if idx > 0 { out.push(','); }
				write_value(item, out);
			}
			out.push(']');
		}
		MiniJSON::Obj(m) => {
			out.push('{');
			for (idx, (k, v)) in m.iter().enumerate() {
				if idx > 0 { out.push(','); }
				write_str(k, out);
				out.push(':');
				write_value(v, out);
			}
			out.push('}');
		}
	}
}

fn write_str(s: &str, out: &mut String) {
	out.push('"');
	for c in s.chars() {
		match c {
			'"' => out.push_str("\\\""),
			'\\' => out.push_str("\\\\"),
			'\n' => out.push_str("\\n"),
			'\t' => out.push_str("\\t"),
			'\r' => out.push_str("\\r"),
			other => out.push(other),
		}
	}
	out.push('"');
}

fn main() {
	let text = fs::read_to_string("` + workspaceDir + `/inputs.json").unwrap_or_else(|_| "{}".to_string());
	let parsed = parse(&text);
	let inputs = match parsed {
		MiniJSON::Obj(m) => m,
		_ => BTreeMap::new(),
	};
	let outputs = skill::execute(&inputs);
	println!("{}", stringify(&MiniJSON::Obj(outputs)));
}
SKILLHUB_EOF
cd ` + workspaceDir + ` && rustc -O runner.rs -o skill_bin && ./skill_bin`

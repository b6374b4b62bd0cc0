package stages

import (
	"metaagent/connector"
	"metaagent/history"
)

func paramGeneratorPrompt(conn *connector.Connector, purpose string, dialogs []history.Dialog) string {
	return `Your job is to produce the argument values for one function call, given the function's definition and the purpose of the call.

The function definition:
<function_definition>
` + conn.Definition() + `
</function_definition>

The purpose of this call:
<purpose>
` + purpose + `
</purpose>

` + historyPrompt(dialogs) + `

Rules for the values:

1. Respect every constraint of the function definition.
2. Follow the purpose of the call as closely as possible.
3. Stay consistent with the conversation history, including the results of earlier function calls.
4. Do not fill optional fields with empty strings or placeholder defaults; leave them out.

How to work:

1. Read the function definition: parameter names, types and constraints.
2. Read the purpose and decide whether the call takes positional arguments or a single keyword object; the purpose usually tells.
3. Collect the values you need from the conversation history.
4. Write your reasoning in "thought". It must state the user's preferred language, what the function does, and how you derive each value.
5. Write the values in "arguments".

Language: values that a person will read or that steer a search, such as search queries, names of people or organizations, file names and email subjects or bodies, must be written in the user's preferred language. Translate source data when needed.

Answer with one JSON object with exactly two keys. "thought" is a string with your reasoning. "arguments" is an array holding one value per parameter, in the order the parameters are declared.

Positional example:
<example_position>
{"thought": "The user prefers [lang_code]. The function ... so I use ...", "arguments": [false, 123, 123.5, "hello,\nworld!", [1, 2, 3], {"foo": "example", "bar": 456}]}
</example_position>

Keyword example:
<example_keyword>
{"thought": "The user prefers [lang_code]. The function ... so I use ...", "arguments": [{"param1": false, "param2": 123, "param3": "안녕하세요!", "param4": {"foo": "예시", "bar": 456}}]}
</example_keyword>

Escape every string in the JSON correctly, especially double quotes, backslashes and newlines. Never put a raw newline inside a string.

<useful_tips>
- The "iri" format is the same as "uri" but allows characters that are not URL-encoded, such as Korean or Japanese text.
</useful_tips>`
}

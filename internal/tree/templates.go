package tree

// defaultTemplates maps a file extension to the content a freshly created
// file starts with.
var defaultTemplates = map[string]string{
	"js":   "// start typing...\n",
	"jsx":  "export default function Component() {\n  return null;\n}\n",
	"ts":   "// start typing...\n",
	"tsx":  "export default function Component() {\n  return null;\n}\n",
	"py":   "# start typing...\n",
	"html": "<!DOCTYPE html>\n<html>\n<head>\n  <title>Document</title>\n</head>\n<body>\n\n</body>\n</html>\n",
	"css":  "/* start typing... */\n",
	"json": "{}\n",
	"md":   "# New Document\n",
	"txt":  "",
}

// DefaultContent returns the starting content for a new file with the
// given extension.
func DefaultContent(ext string) string {
	if tpl, ok := defaultTemplates[ext]; ok {
		return tpl
	}
	return "// New file\n"
}

package mcp

import "github.com/mark3labs/mcp-go/mcp"

var stringItems = map[string]any{"type": "string"}

var statusToolDef = mcp.NewTool("snapshot_status",
	mcp.WithDescription("Report the save directory, request file, number of captures and whether a restore is running."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var reconcileToolDef = mcp.NewTool("snapshot_reconcile",
	mcp.WithDescription("Rescan the save directory. Reports added, modified and removed capture files and per-file errors; the last list filter is re-applied."),
	mcp.WithString("dir", mcp.Description("Switch to this save directory before scanning")),
)

var listToolDef = mcp.NewTool("snapshot_list",
	mcp.WithDescription("List capture files matching a name substring, a comment substring and a set of labels (all must be present). Matching is case-sensitive."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("name", mcp.Description("Substring of the file name")),
	mcp.WithString("comment", mcp.Description("Substring of the comment")),
	mcp.WithArray("labels", mcp.Description("Labels every result must carry"), mcp.Items(stringItems)),
	mcp.WithBoolean("refresh", mcp.Description("Reconcile before listing")),
)

var labelsToolDef = mcp.NewTool("snapshot_labels",
	mcp.WithDescription("List referenced labels with the number of captures carrying each, plus label suggestions (defaults and referenced labels)."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var fetchToolDef = mcp.NewTool("snapshot_fetch",
	mcp.WithDescription("Fetch one capture file: metadata, item values and payload warnings."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("name", mcp.Required(), mcp.Description("Capture file name")),
	mcp.WithBoolean("include_values", mcp.Description("Include item values (default true)")),
)

var restoreToolDef = mcp.NewTool("snapshot_restore",
	mcp.WithDescription("Write a capture's values back to the live system and return the per-item outcome. Fails with NO_CONN when items are disconnected unless force is set, BUSY while another restore runs and NO_DATA when nothing is left to write."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("name", mcp.Required(), mcp.Description("Capture file name")),
	mcp.WithArray("items", mcp.Description("Restrict to these item names (after macro substitution)"), mcp.Items(stringItems)),
	mcp.WithBoolean("force", mcp.Description("Proceed even if items are disconnected (default from config)")),
	mcp.WithObject("macros", mcp.Description("Macro values overriding the configured ones, e.g. {\"SYS\": \"TST\"}")),
)

var saveToolDef = mcp.NewTool("snapshot_save",
	mcp.WithDescription("Read every item of the configured request file from the live system and write a new capture file."),
	mcp.WithString("name", mcp.Description("File name (default {request}_{YYMMDD_HHMMSS})")),
	mcp.WithString("comment", mcp.Description("Free-form comment")),
	mcp.WithArray("labels", mcp.Description("Labels to attach"), mcp.Items(stringItems)),
	mcp.WithBoolean("force", mcp.Description("Save even if items are disconnected")),
	mcp.WithBoolean("overwrite", mcp.Description("Replace an existing file of the same name")),
	mcp.WithObject("macros", mcp.Description("Macro values overriding the configured ones")),
)

var editToolDef = mcp.NewTool("snapshot_edit",
	mcp.WithDescription("Change the comment and/or labels of a capture file. The payload is kept."),
	mcp.WithString("name", mcp.Required(), mcp.Description("Capture file name")),
	mcp.WithString("comment", mcp.Description("New comment")),
	mcp.WithArray("labels", mcp.Description("New label set (replaces the old one)"), mcp.Items(stringItems)),
)

var deleteToolDef = mcp.NewTool("snapshot_delete",
	mcp.WithDescription("Delete capture files. Files that cannot be deleted are reported individually."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithArray("names", mcp.Required(), mcp.Description("Capture file names"), mcp.Items(stringItems)),
)

var compareToolDef = mcp.NewTool("snapshot_compare",
	mcp.WithDescription("Compare two captures item by item. Optionally include a line diff of the payloads."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("a", mcp.Required(), mcp.Description("First capture file name")),
	mcp.WithString("b", mcp.Required(), mcp.Description("Second capture file name")),
	mcp.WithBoolean("text", mcp.Description("Include a line diff")),
)

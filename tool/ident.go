package tool

import "strings"

const mcpPrefix = "mcp__"

// NamespacedMCPIdent builds the wire name for a tool exposed by an MCP
// server: mcp__<serverId>__<toolName>.
func NamespacedMCPIdent(serverID, toolName string) Ident {
	return Ident(mcpPrefix + serverID + "__" + toolName)
}

// Unqualify splits an Ident into its integration name and unqualified tool
// name for allow-list filtering. A namespaced MCP tool yields its server ID
// as the integration; any other tool is its own integration, with the tool
// name equal to the Ident itself.
func Unqualify(id Ident) (integration, name string) {
	s := string(id)
	if !strings.HasPrefix(s, mcpPrefix) {
		return s, s
	}
	rest := strings.TrimPrefix(s, mcpPrefix)
	parts := strings.SplitN(rest, "__", 2)
	if len(parts) != 2 {
		return s, s
	}
	return parts[0], parts[1]
}

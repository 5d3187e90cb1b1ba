package core_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fylle/workflow-mcp/internal/costs"
	mcpserver "github.com/fylle/workflow-mcp/internal/server"
	serverDomain "github.com/fylle/workflow-mcp/internal/server-plugin/domain"
	"github.com/fylle/workflow-mcp/internal/server-plugins/core"
	"github.com/fylle/workflow-mcp/internal/server-plugins/core/domain"
	"github.com/fylle/workflow-mcp/internal/shared/hashing"
	"github.com/fylle/workflow-mcp/pkg/config"
	"github.com/fylle/workflow-mcp/pkg/logger"
)

func toolNamed(tools []serverDomain.Tool, name string) serverDomain.Tool {
	for _, t := range tools {
		if t.Name == name {
			return t
		}
	}
	Fail("tool not found: " + name)
	return serverDomain.Tool{}
}

func call(tool serverDomain.Tool, args map[string]any) mcpserver.ToolResponse {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool.Name
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	Expect(err).NotTo(HaveOccurred())
	Expect(res.Content).To(HaveLen(1))
	var resp mcpserver.ToolResponse
	Expect(json.Unmarshal([]byte(res.Content[0].(mcp.TextContent).Text), &resp)).To(Succeed())
	return resp
}

func decode(data any, into any) {
	raw, err := json.Marshal(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(raw, into)).To(Succeed())
}

var _ = Describe("CoreServerPlugin", func() {
	var (
		buffer *logger.RingBuffer
		plugin *core.CoreServerPlugin
		tools  []serverDomain.Tool
	)

	BeforeEach(func() {
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		attributor, err := costs.NewAttributor(context.Background(), quiet,
			[]costs.OverrideSource{&costs.StaticSource{Rates: map[string]float64{"web_search": 0.01}}})
		Expect(err).NotTo(HaveOccurred())

		buffer = logger.NewRingBuffer(10)
		plugin = core.NewCoreServerPlugin(config.DefaultConfig(), buffer, attributor, quiet)
		tools, err = plugin.GetTools(context.Background())
		Expect(err).NotTo(HaveOccurred())
	})

	It("is always active", func() {
		Expect(plugin.ID()).To(Equal("core"))
		Expect(plugin.RequiredCapability()).To(BeEmpty())
	})

	Describe("hash_content", func() {
		It("matches the hashing package regardless of key order", func() {
			resp := call(toolNamed(tools, "hash_content"), map[string]any{
				"payload":   map[string]any{"b": 2, "a": 1},
				"type_hint": "card",
			})
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusOK))

			var got domain.HashResult
			decode(resp.Data, &got)
			Expect(got.TypeHint).To(Equal("card"))
			Expect(got.Hash).To(Equal(hashing.MustHash(map[string]any{"a": 1, "b": 2}, "card")))
		})

		It("defaults the type hint", func() {
			resp := call(toolNamed(tools, "hash_content"), map[string]any{"payload": map[string]any{"a": 1}})
			var got domain.HashResult
			decode(resp.Data, &got)
			Expect(got.TypeHint).To(Equal(hashing.UnknownType))
		})

		It("requires a payload", func() {
			resp := call(toolNamed(tools, "hash_content"), map[string]any{})
			Expect(resp.Status).To(Equal(mcpserver.ToolStatusError))
			Expect(resp.Code).To(Equal("invalid_arguments"))
		})
	})

	Describe("get_server_logs", func() {
		BeforeEach(func() {
			buffer.Append("level=INFO msg=started")
			buffer.Append("level=WARN msg=retrying token=abc123")
			buffer.Append("level=INFO msg=done")
		})

		It("returns sanitised lines", func() {
			resp := call(toolNamed(tools, "get_server_logs"), map[string]any{"lines": 2})
			var got domain.LogsView
			decode(resp.Data, &got)
			Expect(got.Lines).To(HaveLen(2))
			Expect(got.Lines[0]).NotTo(ContainSubstring("abc123"))
			Expect(got.Capacity).To(Equal(10))
		})

		It("filters lines", func() {
			resp := call(toolNamed(tools, "get_server_logs"), map[string]any{"filter": "done"})
			var got domain.LogsView
			decode(resp.Data, &got)
			Expect(got.Lines).To(Equal([]string{"level=INFO msg=done"}))
			Expect(got.Filter).To(Equal("done"))
		})

		It("rejects a non-positive line count", func() {
			resp := call(toolNamed(tools, "get_server_logs"), map[string]any{"lines": 0})
			Expect(resp.Code).To(Equal("invalid_arguments"))
		})
	})

	It("describes the server configuration", func() {
		resources, err := plugin.GetResources(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(resources).To(HaveLen(2))

		req := mcp.ReadResourceRequest{}
		req.Params.URI = core.InfoURI
		contents, err := resources[0].Handler(context.Background(), req)
		Expect(err).NotTo(HaveOccurred())

		var info domain.ServerInfo
		Expect(json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &info)).To(Succeed())
		Expect(info.Name).To(Equal("Workflow MCP Server"))
		Expect(info.ReplayBackend).To(Equal("memory"))
		Expect(info.CostOverrides).To(ContainElement("web_search"))
	})
})

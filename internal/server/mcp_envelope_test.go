package server_test

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fylle/workflow-mcp/internal/server"
	"github.com/fylle/workflow-mcp/internal/shared"
)

var _ = Describe("ToolResponse envelope", func() {
	decode := func(res *mcp.CallToolResult) map[string]any {
		var out map[string]any
		Expect(json.Unmarshal([]byte(res.Content[0].(mcp.TextContent).Text), &out)).To(Succeed())
		return out
	}

	It("flags error envelopes as tool errors", func() {
		res := server.Error("validation_error", "workflow_type is required", "", nil)
		Expect(res.IsError).To(BeTrue())
		Expect(decode(res)).To(HaveKeyWithValue("code", "validation_error"))

		Expect(server.OK("fine", nil).IsError).To(BeFalse())
	})

	It("takes the request id from the tenant trace", func() {
		ctx := shared.WithTenantContext(context.Background(),
			shared.NewTenantContextFromHeaders(map[string]string{"X-Tenant-ID": "t1", "X-Trace-ID": "tr-1"}))

		res := server.Respond(ctx, server.ToolResponse{Status: server.ToolStatusPartial}, nil)
		Expect(decode(res)).To(HaveKeyWithValue("request_id", "tr-1"))
	})

	It("keeps an explicit request id", func() {
		ctx := shared.WithTenantContext(context.Background(),
			shared.NewTenantContextFromHeaders(map[string]string{"X-Trace-ID": "tr-1"}))

		res := server.Respond(ctx, server.ToolResponse{Status: server.ToolStatusOK, RequestID: "explicit"}, nil)
		Expect(decode(res)).To(HaveKeyWithValue("request_id", "explicit"))
	})

	It("falls back to a marshal error envelope", func() {
		res := server.NewResult(server.ToolResponse{Status: server.ToolStatusOK, RequestID: "r", Data: make(chan int)})
		out := decode(res)
		Expect(out).To(HaveKeyWithValue("code", "tool_response_marshal_error"))
		Expect(out).To(HaveKeyWithValue("request_id", "r"))
	})
})

// Package agentloop runs a conversation in which a language model answers
// questions by calling local tools it names, one at a time, until it can
// reply in text.
//
// # Architecture
//
//   - ToolRegistry: tools by name, each a ToolDescriptor plus a ToolFunc.
//     Built once, read by every Session.
//   - History: the append-only transcript. A tool-call turn is always
//     followed by the tool-result turn that answers it.
//   - FileTracker: the source file the user is working on. Its content and
//     recent changes are prefixed to each user message.
//   - Session: owns a History and a FileTracker and runs the loop through a
//     unifiedllm.Client, reporting progress on an event channel.
//   - ProviderProfile: the system instruction for a provider's models.
//
// # Quick Start
//
//	reg := agentloop.NewToolRegistry()
//	if err := agentloop.RegisterBuiltinTools(reg, agentloop.BuiltinDeps{Workspace: ws, Client: client}); err != nil {
//	    return err
//	}
//	profile, _ := agentloop.ProfileFor("gemini", "")
//	session, err := agentloop.NewSession(client, profile, reg, agentloop.DefaultSessionConfig())
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	session.Watch("main.go")
//	res, err := session.Run(ctx, "Are there bugs in this file?")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Status, res.Answer)
package agentloop

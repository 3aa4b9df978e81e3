package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/pyfix/pyfixls/internal/fixtures"
	"github.com/pyfix/pyfixls/internal/fixtures/watch"
	"go.lsp.dev/protocol"
)

// Server handles LSP requests over a fixture Database.
type Server struct {
	conn *Conn
	db   *fixtures.Database

	mu          sync.RWMutex
	initialized bool
	shutdown    bool
	documents   map[protocol.DocumentURI]*Document
	rootURI     protocol.DocumentURI
	watcher     *watch.Watcher

	onExit func()
}

// Document represents an open text document.
type Document struct {
	URI     protocol.DocumentURI
	Version int32
	Content string
}

// NewServer creates a new LSP server backed by db. If db is nil, a fresh
// empty Database is created; the workspace is populated on initialize via
// ScanWorkspace.
func NewServer(db *fixtures.Database, onExit func()) *Server {
	if db == nil {
		db = fixtures.New()
	}
	return &Server{
		db:        db,
		documents: make(map[protocol.DocumentURI]*Document),
		onExit:    onExit,
	}
}

// SetConn sets the connection for sending notifications.
func (s *Server) SetConn(conn *Conn) {
	s.conn = conn
}

// Handle implements Handler interface - routes requests to methods.
func (s *Server) Handle(ctx context.Context, req *Request) (any, error) {
	s.mu.RLock()
	shutdown := s.shutdown
	initialized := s.initialized
	s.mu.RUnlock()

	if shutdown && req.Method != "exit" {
		return nil, &ResponseError{
			Code:    CodeInvalidRequest,
			Message: "server is shutting down",
		}
	}

	if !initialized {
		switch req.Method {
		case "initialize", "initialized", "shutdown", "exit":
		default:
			return nil, &ResponseError{
				Code:    CodeInvalidRequest,
				Message: "server not initialized",
			}
		}
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(ctx, req.Params)
	case "initialized":
		return s.handleInitialized(ctx, req.Params)
	case "shutdown":
		return s.handleShutdown(ctx)
	case "exit":
		return s.handleExit(ctx)

	case "textDocument/didOpen":
		return s.handleDidOpen(ctx, req.Params)
	case "textDocument/didChange":
		return s.handleDidChange(ctx, req.Params)
	case "textDocument/didClose":
		return s.handleDidClose(ctx, req.Params)
	case "textDocument/didSave":
		return s.handleDidSave(ctx, req.Params)

	case "textDocument/hover":
		return s.handleHover(ctx, req.Params)
	case "textDocument/definition":
		return s.handleDefinition(ctx, req.Params)
	case "textDocument/completion":
		return s.handleCompletion(ctx, req.Params)
	case "textDocument/documentSymbol":
		return s.handleDocumentSymbol(ctx, req.Params)
	case "textDocument/references":
		return s.handleReferences(ctx, req.Params)

	default:
		log.Printf("unhandled method: %s", req.Method)
		return nil, ErrMethodNotFound
	}
}

// --- Lifecycle methods ---

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing initialize params: %w", err)
	}

	s.mu.Lock()
	if len(p.WorkspaceFolders) > 0 {
		s.rootURI = protocol.DocumentURI(p.WorkspaceFolders[0].URI)
	} else if p.RootURI != "" {
		s.rootURI = p.RootURI
	}
	root := s.rootURI
	s.mu.Unlock()

	log.Printf("initialize: root=%s", root)

	if root != "" {
		go func() {
			path := uriToPath(root)
			result, err := s.db.ScanWorkspace(path, nil)
			if err != nil {
				log.Printf("initialize: workspace scan failed: %v", err)
				return
			}
			log.Printf("initialize: scanned %d files under %s", len(result.Files), root)
			s.startWatcher(path)
		}()
	}

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.TextDocumentSyncKindFull,
				Save: &protocol.SaveOptions{
					IncludeText: true,
				},
			},
			HoverProvider:          true,
			DefinitionProvider:     true,
			ReferencesProvider:     true,
			DocumentSymbolProvider: true,
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"(", ",", "\""},
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    "fixtures-ls",
			Version: "0.1.0",
		},
	}, nil
}

// startWatcher begins fsnotify-backed re-ingestion of root (spec §11):
// file changes made outside this editor session are re-analyzed and, for
// documents not currently open in this session, their diagnostics are
// republished.
func (s *Server) startWatcher(root string) {
	w, err := watch.New(s.db, root, nil)
	if err != nil {
		log.Printf("initialize: starting file watcher failed: %v", err)
		return
	}
	w.OnChange = func(path string, removed bool) {
		uri := pathToURI(path)
		s.mu.RLock()
		_, open := s.documents[uri]
		s.mu.RUnlock()
		if open {
			return // the didOpen/didChange/didClose handlers own this document
		}
		if removed {
			return
		}
		s.publishDiagnostics(context.Background(), uri, path)
	}

	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()
}

func (s *Server) stopWatcher() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			log.Printf("stopping file watcher: %v", err)
		}
	}
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) (any, error) {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	log.Printf("initialized")
	return nil, nil
}

func (s *Server) handleShutdown(ctx context.Context) (any, error) {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.stopWatcher()

	log.Printf("shutdown")
	return nil, nil
}

func (s *Server) handleExit(ctx context.Context) (any, error) {
	log.Printf("exit")
	s.stopWatcher()
	if s.onExit != nil {
		s.onExit()
	}
	return nil, nil
}

// --- Text document sync ---

func (s *Server) handleDidOpen(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.documents[p.TextDocument.URI] = &Document{
		URI:     p.TextDocument.URI,
		Version: p.TextDocument.Version,
		Content: p.TextDocument.Text,
	}
	s.mu.Unlock()

	log.Printf("didOpen: %s", p.TextDocument.URI)

	s.analyzeAndPublish(ctx, p.TextDocument.URI, p.TextDocument.Text)
	return nil, nil
}

func (s *Server) handleDidChange(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.DidChangeTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	var content string
	s.mu.Lock()
	if doc, ok := s.documents[p.TextDocument.URI]; ok {
		doc.Version = p.TextDocument.Version
		if len(p.ContentChanges) > 0 {
			doc.Content = p.ContentChanges[len(p.ContentChanges)-1].Text
		}
		content = doc.Content
	}
	s.mu.Unlock()

	log.Printf("didChange: %s v%d", p.TextDocument.URI, p.TextDocument.Version)
	s.analyzeAndPublish(ctx, p.TextDocument.URI, content)
	return nil, nil
}

func (s *Server) handleDidClose(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.documents, p.TextDocument.URI)
	s.mu.Unlock()

	s.db.CleanupFileCache(uriToPath(p.TextDocument.URI))

	log.Printf("didClose: %s", p.TextDocument.URI)

	if s.conn != nil {
		if err := s.conn.Notify(ctx, "textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
			URI:         p.TextDocument.URI,
			Diagnostics: []protocol.Diagnostic{},
		}); err != nil {
			log.Printf("failed to clear diagnostics: %v", err)
		}
	}

	return nil, nil
}

func (s *Server) handleDidSave(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.DidSaveTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	log.Printf("didSave: %s", p.TextDocument.URI)

	content := p.Text
	if content == "" {
		s.mu.RLock()
		if doc, ok := s.documents[p.TextDocument.URI]; ok {
			content = doc.Content
		}
		s.mu.RUnlock()
	}

	if content != "" {
		s.analyzeAndPublish(ctx, p.TextDocument.URI, content)
	}
	return nil, nil
}

// --- Language features ---

func (s *Server) handleHover(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.HoverParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	path := uriToPath(p.TextDocument.URI)
	name, ok := s.db.FindFixtureAtPosition(path, int(p.Position.Line)+1, int(p.Position.Character))
	if !ok {
		return nil, nil
	}

	def := s.db.FindFixtureDefinition(path, int(p.Position.Line)+1, int(p.Position.Character))
	if def == nil {
		// Cursor sits on the definition line itself; resolve by name instead.
		for _, d := range s.db.GetAvailableFixtures(path) {
			if d.Name == name {
				def = &d
				break
			}
		}
	}
	if def == nil {
		return nil, nil
	}

	log.Printf("hover: %s @ %d:%d -> %q", path, p.Position.Line, p.Position.Character, name)

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: formatFixtureHover(*def),
		},
	}, nil
}

func formatFixtureHover(d fixtures.FixtureDefinition) string {
	var b strings.Builder
	b.WriteString("```python\n@pytest.fixture")
	if d.Scope != "" && d.Scope != "function" {
		fmt.Fprintf(&b, "(scope=%q)", d.Scope)
	}
	b.WriteString("\ndef ")
	b.WriteString(d.Name)
	b.WriteString("(...)")
	if d.ReturnType != "" {
		b.WriteString(" -> ")
		b.WriteString(d.ReturnType)
	}
	b.WriteString("\n```\n")
	if d.Autouse {
		b.WriteString("\n*autouse*\n")
	}
	if d.Docstring != "" {
		b.WriteString("\n")
		b.WriteString(d.Docstring)
		b.WriteString("\n")
	}
	if d.IsThirdParty {
		b.WriteString("\n_defined in a third-party plugin_\n")
	}
	return b.String()
}

func (s *Server) handleDefinition(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.DefinitionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	path := uriToPath(p.TextDocument.URI)
	def := s.db.FindFixtureDefinition(path, int(p.Position.Line)+1, int(p.Position.Character))
	if def == nil {
		return nil, nil
	}

	log.Printf("definition: %s @ %d:%d -> %q", path, p.Position.Line, p.Position.Character, def.Name)

	return []protocol.Location{
		{
			URI:   pathToURI(def.FilePath),
			Range: fixtureNameRange(*def),
		},
	}, nil
}

func (s *Server) handleReferences(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.ReferenceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	path := uriToPath(p.TextDocument.URI)
	name, ok := s.db.FindFixtureAtPosition(path, int(p.Position.Line)+1, int(p.Position.Character))
	if !ok {
		return nil, nil
	}

	var def *fixtures.FixtureDefinition
	for _, d := range s.db.GetAvailableFixtures(path) {
		if d.Name == name {
			v := d
			def = &v
			break
		}
	}
	if def == nil {
		return nil, nil
	}

	log.Printf("references: %s @ %d:%d -> %q", path, p.Position.Line, p.Position.Character, name)

	usages := s.db.FindReferencesForDefinition(*def)
	locs := make([]protocol.Location, 0, len(usages)+1)
	if p.Context.IncludeDeclaration {
		locs = append(locs, protocol.Location{URI: pathToURI(def.FilePath), Range: fixtureNameRange(*def)})
	}
	for _, u := range usages {
		locs = append(locs, protocol.Location{
			URI: pathToURI(u.FilePath),
			Range: protocol.Range{
				Start: protocol.Position{Line: uint32(u.Line - 1), Character: uint32(u.StartChar)},
				End:   protocol.Position{Line: uint32(u.Line - 1), Character: uint32(u.EndChar)},
			},
		})
	}

	log.Printf("references: found %d references to %q", len(locs), name)
	return locs, nil
}

func (s *Server) handleCompletion(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.CompletionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("parsing completion params: %w", err)
	}

	path := uriToPath(p.TextDocument.URI)
	cctx := s.db.GetCompletionContext(path, int(p.Position.Line)+1, int(p.Position.Character))
	if cctx == nil || cctx.Kind == fixtures.CompletionNone {
		return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
	}

	var items []protocol.CompletionItem
	switch cctx.Kind {
	case fixtures.CompletionUsefixturesDecorator, fixtures.CompletionParametrizeIndirect, fixtures.CompletionFunctionSignature:
		for _, d := range s.db.GetAvailableFixtures(path) {
			items = append(items, fixtureCompletionItem(d))
		}
	default:
		return &protocol.CompletionList{Items: []protocol.CompletionItem{}}, nil
	}

	return &protocol.CompletionList{IsIncomplete: false, Items: items}, nil
}

func fixtureCompletionItem(d fixtures.FixtureDefinition) protocol.CompletionItem {
	detail := d.Scope
	if d.Docstring != "" {
		detail = d.Docstring
	}
	return protocol.CompletionItem{
		Label:  d.Name,
		Kind:   protocol.CompletionItemKindVariable,
		Detail: detail,
	}
}

func (s *Server) handleDocumentSymbol(ctx context.Context, params json.RawMessage) (any, error) {
	var p protocol.DocumentSymbolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}

	path := uriToPath(p.TextDocument.URI)
	log.Printf("documentSymbol: %s", path)

	var symbols []protocol.DocumentSymbol
	for _, d := range s.db.GetAvailableFixtures(path) {
		if d.FilePath != path {
			continue
		}
		r := fixtureNameRange(d)
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           d.Name,
			Kind:           protocol.SymbolKindFunction,
			Detail:         "fixture",
			Range:          r,
			SelectionRange: r,
		})
	}
	return symbols, nil
}

// --- Diagnostics ---

func (s *Server) analyzeAndPublish(ctx context.Context, uri protocol.DocumentURI, content string) {
	path := uriToPath(uri)
	if err := s.db.AnalyzeFile(path, []byte(content)); err != nil {
		log.Printf("analyze error for %s: %v", path, err)
	}
	s.publishDiagnostics(ctx, uri, path)
}

func (s *Server) publishDiagnostics(ctx context.Context, uri protocol.DocumentURI, path string) {
	if s.conn == nil {
		return
	}

	var diagnostics []protocol.Diagnostic
	for _, u := range s.db.GetUndeclaredFixtures(path) {
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: uint32(u.Line - 1), Character: uint32(u.StartChar)},
				End:   protocol.Position{Line: uint32(u.Line - 1), Character: uint32(u.EndChar)},
			},
			Severity: protocol.DiagnosticSeverityWarning,
			Code:     "undeclared-fixture",
			Source:   "fixtures-ls",
			Message:  fmt.Sprintf("%q resolves to a fixture but is not a declared parameter of %s", u.Name, u.FunctionName),
		})
	}

	if err := s.conn.Notify(ctx, "textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	}); err != nil {
		log.Printf("failed to publish diagnostics: %v", err)
	}

	log.Printf("published %d diagnostics for %s", len(diagnostics), path)
}

// --- Position/URI helpers ---

func fixtureNameRange(d fixtures.FixtureDefinition) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: uint32(d.Line - 1), Character: uint32(d.StartChar)},
		End:   protocol.Position{Line: uint32(d.Line - 1), Character: uint32(d.EndChar)},
	}
}

// uriToPath converts a document URI to a file path.
func uriToPath(uri protocol.DocumentURI) string {
	s := string(uri)
	if strings.HasPrefix(s, "file://") {
		return s[len("file://"):]
	}
	return s
}

// pathToURI converts a file path back to a file:// document URI.
func pathToURI(path string) protocol.DocumentURI {
	if strings.HasPrefix(path, "file://") {
		return protocol.DocumentURI(path)
	}
	return protocol.DocumentURI("file://" + path)
}

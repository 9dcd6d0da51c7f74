package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sectionlock/internal/handlers/testutil"
	"github.com/charlesng35/sectionlock/internal/protocol"
)

func TestCollabSocketRequiresToken(t *testing.T) {
	env := testutil.NewEnv(t)

	_, resp, err := env.DialRaw("doc-1", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCollabSocketRejectsTokenForOtherDocument(t *testing.T) {
	env := testutil.NewEnv(t)

	_, resp, err := env.DialRaw("doc-1", env.Token("user-a", "alice", "doc-2"))
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCollabSocketSectionLockScenario(t *testing.T) {
	env := testutil.NewEnv(t)

	alice := env.Dial("doc-1", env.Token("user-a", "alice"))
	list := testutil.Read(t, alice)
	require.Equal(t, protocol.TypeCollaboratorsList, list.Type)
	require.Len(t, list.Collaborators, 1)
	aliceConn := list.ConnectionID
	require.NotEmpty(t, aliceConn)

	bob := env.Dial("doc-1", env.Token("user-b", "bob", "doc-1"))
	list = testutil.Read(t, bob)
	require.Equal(t, protocol.TypeCollaboratorsList, list.Type)
	require.Len(t, list.Collaborators, 2)

	joined := testutil.Read(t, alice)
	require.Equal(t, protocol.TypeUserJoined, joined.Type)
	require.Equal(t, "bob", joined.Username)

	require.NoError(t, alice.WriteJSON(protocol.Request{Type: protocol.TypeSectionLock, Section: "methods"}))
	locked := testutil.Read(t, alice)
	require.Equal(t, protocol.TypeSectionLocked, locked.Type)
	require.Equal(t, aliceConn, locked.ConnectionID)
	locked = testutil.Read(t, bob)
	require.Equal(t, protocol.TypeSectionLocked, locked.Type)
	require.Equal(t, "methods", locked.Section)
	require.Equal(t, "alice", locked.Username)

	require.NoError(t, bob.WriteJSON(protocol.Request{Type: protocol.TypeSectionLock, Section: "methods"}))
	denied := testutil.Read(t, bob)
	require.Equal(t, protocol.TypeError, denied.Type)
	require.Equal(t, protocol.CodeSectionLocked, denied.Code)
	require.Contains(t, denied.Message, "alice")

	require.NoError(t, alice.Close())

	left := testutil.Read(t, bob)
	require.Equal(t, protocol.TypeUserLeft, left.Type)
	require.Equal(t, aliceConn, left.ConnectionID)

	unlocked := testutil.Read(t, bob)
	require.Equal(t, protocol.TypeSectionUnlocked, unlocked.Type)
	require.Equal(t, "methods", unlocked.Section)
	require.Equal(t, protocol.ReasonDisconnected, unlocked.Reason)

	require.NoError(t, bob.WriteJSON(protocol.Request{Type: protocol.TypeSectionLock, Section: "methods"}))
	locked = testutil.Read(t, bob)
	require.Equal(t, protocol.TypeSectionLocked, locked.Type)
	require.Equal(t, "bob", locked.Username)
}

func TestCollabSocketAnswersPing(t *testing.T) {
	env := testutil.NewEnv(t)

	conn := env.Dial("doc-1", env.Token("user-a", "alice"))
	testutil.Read(t, conn)

	require.NoError(t, conn.WriteJSON(protocol.Request{Type: protocol.TypePing}))
	require.Equal(t, protocol.TypePong, testutil.Read(t, conn).Type)
}

func TestCollabSocketKeepsUnusualDocumentIDs(t *testing.T) {
	for _, documentID := range []string{"doc 1", "paper/v2", "50%"} {
		t.Run(documentID, func(t *testing.T) {
			env := testutil.NewEnv(t)

			conn := env.Dial(documentID, env.Token("user-a", "alice", documentID))
			require.Equal(t, protocol.TypeCollaboratorsList, testutil.Read(t, conn).Type)
			require.Equal(t, []string{documentID}, env.Manager.Documents())
		})
	}
}

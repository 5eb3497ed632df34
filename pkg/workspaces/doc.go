// Package workspaces provides team workspaces for prdforge.
//
// # Overview
//
// A workspace groups users around a shared credit pool and shared PRDs. The
// creator is the owner and cannot leave or be removed; other members join
// through invitations.
//
// # Roles
//
//	owner   rename, delete, invite, revoke invitations, remove members
//	member  read the workspace, its members and its PRDs, spend its credits
//
// # Invitations
//
// Invitation tokens are 32 random bytes, hex encoded, and stay valid for
// seven days. Accepting a token inside a transaction locks the invitation
// row so it can only be used once:
//
//	inv, err := svc.CreateInvitation(ctx, wsID, ownerID, &workspaces.InviteMemberRequest{Email: "dev@example.com"})
//	member, err := svc.AcceptInvitation(ctx, inv.Token, userID)
//
// Expired invitations are deleted by the reconciler binary's daily job.
package workspaces

// Package prd stores product requirements documents and runs the metered
// generate and revise flows.
//
// # Generation protocol
//
// Every generation and revision follows the same steps:
//
//  1. Deduct the cost from the personal or workspace pool through the
//     ledger's atomic RPC. Insufficient balance fails before anything streams.
//  2. Stream model output to the Sink as Delta events while accumulating it.
//  3. Save: a generation inserts a PRD; a revision bumps the version and
//     moves the previous content to prd_revisions in one transaction.
//  4. On any failure after the deduction (model error, client disconnect,
//     save error, concurrent revision) refund through credits.Refunder and
//     send an Error event carrying whether the refund succeeded.
//  5. A failed refund is recorded for the reconciler by the Refunder.
//
// # Templates
//
//	standard   full PRD, ten sections
//	lean       one-page brief
//	technical  PRD with architecture, data model and API design
//
// # Archive
//
// Saved versions are uploaded to prds/<id>/v<version>.md by an S3Archiver
// when a bucket is configured. Uploads are best-effort.
package prd

// Package tracking holds the small per-deal sets the pipeline consults before
// it talks to the chat: which deals were already posted, and who clicked
// "interested" on each post.
//
// Both structures live for the process lifetime and only grow.
package tracking

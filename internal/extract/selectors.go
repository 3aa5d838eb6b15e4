package extract

// Selectors holds the ranked structural lookups per field. Platform
// markup drifts; keeping these as ordered data means a layout change is
// a config edit, and the first strategy that hits wins.
type Selectors struct {
	PostContainer []string
	PostAuthor    []string
	PostBody      []string
	PostTime      []string
	PostImages    []string
	CommentCount  []string

	CommentContainer []string
	CommentAuthor    []string
	CommentBody      []string
	CommentTime      []string

	LoadPreviousControl []string
}

// DefaultSelectors targets the current Band web markup, newest variant
// first and older fallbacks behind it.
func DefaultSelectors() Selectors {
	return Selectors{
		PostContainer: []string{
			"div.cCard[data-post-no]",
			"section[data-viewname='DPostCard']",
			"div.postWrap",
		},
		PostAuthor: []string{
			"button.text strong.name",
			"strong.postWriterInfoWrap .name",
			"a.userName",
		},
		PostBody: []string{
			"div.postText div.txtBody",
			"div.postBody .txtBody",
			"p.txt",
		},
		PostTime: []string{
			"time.time",
			"span.time",
			"a.date",
		},
		PostImages: []string{
			"div.imageWrap img",
			"div.collageImage img",
			"div.postMedia img",
		},
		CommentCount: []string{
			"button.comment em.count",
			"a.comment em",
			"span.commentCount",
		},
		CommentContainer: []string{
			"div.cComment[data-comment-id]",
			"div.commentItem",
			"li.commentList",
		},
		CommentAuthor: []string{
			"button.writeInfo strong.name",
			"strong.nameWrap",
			"a.writerName",
		},
		CommentBody: []string{
			"p.txt._commentContent",
			"div.commentText p",
			"p.commentBody",
		},
		CommentTime: []string{
			"time.time",
			"span.func time",
			"span.date",
		},
		LoadPreviousControl: []string{
			"button.prevComment",
			"button._btnPrevComment",
			"a.viewPrevComment",
		},
	}
}

// Package e2e provides end-to-end tests over a small WeRead library with known answers.
package e2e

import (
	"fmt"

	"github.com/hyperjump/readmatrix/internal/eval"
)

// Corpus holds books and the evaluation cases whose answers are known to live in them.
type Corpus struct {
	Books      []Book
	Cases      []eval.Case
	TotalBooks int
	TotalCases int
}

// topic is one book of the corpus. Signature is a highlight unique to the book, used as the
// query text so that the expected book is unambiguous.
type topic struct {
	id        string
	title     string
	author    string
	signature string
	keyword   string
}

var topics = []topic{
	{"B01", "活着", "余华", "人是为活着本身而活着的，而不是为了活着之外的任何事物所活着", "活着本身"},
	{"B02", "围城", "钱锺书", "城外的人想冲进去，城里的人想逃出来，婚姻也罢职业也罢人生的愿望大都如此", "城外的人"},
	{"B03", "平凡的世界", "路遥", "生活不能等待别人来安排，要自己去争取和奋斗", "争取和奋斗"},
	{"B04", "百年孤独", "加西亚·马尔克斯", "生命中曾经有过的所有灿烂，原来终究都需要用寂寞来偿还", "寂寞来偿还"},
	{"B05", "小王子", "圣埃克苏佩里", "真正重要的东西用眼睛是看不见的，只有用心才能看清", "用心才能看清"},
	{"B06", "人类简史", "尤瓦尔·赫拉利", "农业革命让人类的食物总量增加，却没有让个体生活变得更好", "农业革命"},
	{"B07", "思考，快与慢", "丹尼尔·卡尼曼", "系统一快速直觉地运作，系统二则需要付出专注的努力", "系统二"},
	{"B08", "原则", "瑞·达利欧", "痛苦加反思等于进步，直面现实是一切改进的起点", "痛苦加反思"},
	{"B09", "三体", "刘慈欣", "弱小和无知不是生存的障碍，傲慢才是", "傲慢才是"},
	{"B10", "乡土中国", "费孝通", "差序格局像石子投入水中推出的一圈圈波纹，以自己为中心向外扩散", "差序格局"},
	{"B11", "红楼梦", "曹雪芹", "假作真时真亦假，无为有处有还无", "假作真时"},
	{"B12", "瓦尔登湖", "梭罗", "我到林中去，因为我希望从容不迫地生活，只面对生活中最基本的事实", "从容不迫"},
}

// BuildCorpus returns one book per topic. Every book has two chapters and one annotated
// note; its signature highlight opens the second chapter.
func BuildCorpus() *Corpus {
	books := make([]Book, 0, len(topics))
	cases := make([]eval.Case, 0, len(topics))
	for i, tp := range topics {
		books = append(books, Book{
			ID:     tp.id,
			Title:  tp.title,
			Author: tp.author,
			Chapters: []Chapter{
				{Title: "第一章", Highlights: []string{
					fmt.Sprintf("《%s》开篇交代了故事的时代背景", tp.title),
					fmt.Sprintf("%s在这一章里埋下了第%d条伏笔", tp.author, i+1),
				}},
				{Title: "第二章", Highlights: []string{
					tp.signature,
					fmt.Sprintf("这一段是%s写给读者的旁白", tp.author),
				}},
			},
			Notes: []Note{{
				Anchor:   fmt.Sprintf("n%02d", i+1),
				Original: fmt.Sprintf("%s的结尾留下了余韵", tp.title),
				Comment:  "值得反复阅读",
				Time:     fmt.Sprintf("2024-01-%02d 21:00:00", i+1),
			}},
		})
		cases = append(cases, eval.Case{
			ID:    tp.id,
			Query: tp.signature,
			Expected: eval.Expected{
				BookTitle:   []string{tp.title},
				MustInclude: []string{tp.keyword},
			},
		})
	}
	return &Corpus{
		Books:      books,
		Cases:      cases,
		TotalBooks: len(books),
		TotalCases: len(cases),
	}
}

// TotalChunks is the number of chunks a full rebuild of the corpus should produce.
func (c *Corpus) TotalChunks() int {
	n := 0
	for _, b := range c.Books {
		n += b.HighlightCount()
	}
	return n
}
